// internal/idp/okta/provider.go
package okta

import (
	"context"
	"net/url"

	"dirsync/internal/idp"
)

// New is the idp.Factory for provider type "okta".
func New(cfg idp.ProviderConfig) (idp.Provider, error) {
	return NewClient(cfg)
}

func (c *Client) ListApplications(ctx context.Context) idp.Stream[idp.Application] {
	src := newStream[wireApp](c.getPage, c.listURL("/api/v1/apps"))
	return mapped[wireApp, idp.Application]{src: src, fn: wireApp.toRecord}
}

func (c *Client) StreamUsers(ctx context.Context, appID string) idp.Stream[idp.User] {
	src := newStream[wireUser](c.getPage, c.listURL("/api/v1/apps/"+url.PathEscape(appID)+"/users"))
	return mapped[wireUser, idp.User]{src: src, fn: wireUser.toRecord}
}

func (c *Client) StreamGroups(ctx context.Context, appID string) idp.Stream[idp.Group] {
	src := newStream[wireGroup](c.getPage, c.listURL("/api/v1/apps/"+url.PathEscape(appID)+"/groups"))
	return mapped[wireGroup, idp.Group]{src: src, fn: wireGroup.toRecord}
}

func (c *Client) StreamGroupMembers(ctx context.Context, groupID string) idp.Stream[idp.User] {
	src := newStream[wireUser](c.getPage, c.listURL("/api/v1/groups/"+url.PathEscape(groupID)+"/users"))
	return mapped[wireUser, idp.User]{src: src, fn: wireUser.toRecord}
}
