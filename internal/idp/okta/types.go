// internal/idp/okta/types.go
package okta

import (
	"strings"

	"dirsync/internal/idp"
)

// Wire shapes for the Okta list endpoints. Only the fields the sync
// consumes are decoded.

type wireApp struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type wireUser struct {
	ID      string `json:"id"`
	Profile struct {
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
		FirstName   string `json:"firstName"`
		LastName    string `json:"lastName"`
	} `json:"profile"`
}

type wireGroup struct {
	ID      string `json:"id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

func (a wireApp) toRecord() idp.Application {
	return idp.Application{ID: a.ID, Label: a.Label}
}

func (u wireUser) toRecord() idp.User {
	name := u.Profile.DisplayName
	if name == "" {
		name = strings.TrimSpace(u.Profile.FirstName + " " + u.Profile.LastName)
	}
	return idp.User{ID: u.ID, Email: u.Profile.Email, DisplayName: name}
}

func (g wireGroup) toRecord() idp.Group {
	return idp.Group{ID: g.ID, Name: g.Profile.Name}
}
