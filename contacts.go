package solsync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

const (
	resourceContacts = "contacts"
	resourceStats    = "stats"
)

// ListContacts returns one page of contacts. A page fetched less than
// Config.ListTTL ago is served from memory; otherwise the backend is asked,
// conditionally when a validator is known, and concurrent callers for the
// same query share one request. The result is a copy the caller may modify.
func (c *Client) ListContacts(ctx context.Context, q ListQuery) (PagedResult, error) {
	q, err := q.normalized()
	if err != nil {
		return PagedResult{}, err
	}
	plan := fetchPlan{
		key:      ListKey(q),
		resource: resourceContacts,
		ttl:      c.cfg.ListTTL,
		timeout:  c.cfg.ListTimeout,
		force:    q.Force,
	}
	page, err := revalidate[PagedResult](ctx, c, plan, func(ctx context.Context, validator string) (conditionalResponse[PagedResult], error) {
		res, err := c.getConditional(ctx, "/contacts", listParams(q), validator, "contacts.list")
		if err != nil {
			return conditionalResponse[PagedResult]{}, err
		}
		if res.notModified() {
			return conditionalResponse[PagedResult]{NotModified: true}, nil
		}
		if res.status < 200 || res.status > 299 {
			return conditionalResponse[PagedResult]{}, newAPIError(res.status, res.body, "failed to load contacts")
		}
		normalized, err := NormalizeList(res.body, q.Page, q.PerPage)
		if err != nil {
			return conditionalResponse[PagedResult]{}, err
		}
		return conditionalResponse[PagedResult]{Validator: res.etag, Payload: normalized}, nil
	})
	if err != nil {
		return PagedResult{}, err
	}
	return page.Clone(), nil
}

// listParams spells the page size three ways; backends differ in which one
// they read.
func listParams(q ListQuery) url.Values {
	per := strconv.Itoa(q.PerPage)
	v := url.Values{}
	v.Set("page", strconv.Itoa(q.Page))
	v.Set("per_page", per)
	v.Set("perPage", per)
	v.Set("limit", per)
	if q.Query != "" {
		v.Set("q", q.Query)
	}
	if q.Status != StatusAll {
		v.Set("status", string(q.Status))
	}
	return v
}

// ContactsStats returns the processed/pending aggregate through the same
// cache path as ListContacts.
func (c *Client) ContactsStats(ctx context.Context, force bool) (Stats, error) {
	plan := fetchPlan{
		key:      StatsKey,
		resource: resourceStats,
		ttl:      c.cfg.ListTTL,
		timeout:  c.cfg.StatsTimeout,
		force:    force,
	}
	return revalidate[Stats](ctx, c, plan, func(ctx context.Context, validator string) (conditionalResponse[Stats], error) {
		res, err := c.getConditional(ctx, "/contacts/stats", nil, validator, "contacts.stats")
		if err != nil {
			return conditionalResponse[Stats]{}, err
		}
		if res.notModified() {
			return conditionalResponse[Stats]{NotModified: true}, nil
		}
		if res.status < 200 || res.status > 299 {
			return conditionalResponse[Stats]{}, newAPIError(res.status, res.body, "failed to load statistics")
		}
		stats, err := NormalizeStats(res.body)
		if err != nil {
			return conditionalResponse[Stats]{}, err
		}
		return conditionalResponse[Stats]{Validator: res.etag, Payload: stats}, nil
	})
}

// PollStats fetches stats unconditionally, bypassing cache and validators.
func (c *Client) PollStats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatsTimeout)
	defer cancel()
	res, err := c.getConditional(ctx, "/contacts/stats", nil, "", "contacts.poll")
	if err != nil {
		return Stats{}, err
	}
	if res.status < 200 || res.status > 299 {
		return Stats{}, newAPIError(res.status, res.body, "failed to load statistics")
	}
	return NormalizeStats(res.body)
}

// ContactsSnapshot returns the last persisted page for q, if one is younger
// than Config.SnapshotTTL. It never touches the network.
func (c *Client) ContactsSnapshot(ctx context.Context, q ListQuery) (PagedResult, bool) {
	q, err := q.normalized()
	if err != nil {
		return PagedResult{}, false
	}
	var page PagedResult
	if !c.readSnapshot(ctx, ListKey(q), &page) {
		return PagedResult{}, false
	}
	return page, true
}

// StatsSnapshot returns the last persisted stats, if fresh enough.
func (c *Client) StatsSnapshot(ctx context.Context) (Stats, bool) {
	var s Stats
	if !c.readSnapshot(ctx, StatsKey, &s) {
		return Stats{}, false
	}
	return s, true
}

// GetContact loads a single record.
func (c *Client) GetContact(ctx context.Context, id int64) (Record, error) {
	var r Record
	if err := c.getJSON(ctx, contactPath(id), "contacts.get", "failed to load contact", &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// UpdateContact saves the record's note and returns the backend's version of
// it. Every cached listing is invalidated on success.
func (c *Client) UpdateContact(ctx context.Context, id int64, u ContactUpdate) (Record, error) {
	var r Record
	if err := c.sendJSON(ctx, http.MethodPut, contactPath(id), "contacts.update", "failed to save", u, &r); err != nil {
		return Record{}, err
	}
	c.InvalidateContacts()
	return r, nil
}

// DeleteContact removes a record and invalidates every cached listing.
func (c *Client) DeleteContact(ctx context.Context, id int64) error {
	if err := c.sendJSON(ctx, http.MethodDelete, contactPath(id), "contacts.delete", "failed to delete", nil, nil); err != nil {
		return err
	}
	c.InvalidateContacts()
	return nil
}

// OpenChangeStream opens the contacts change event stream.
func (c *Client) OpenChangeStream(ctx context.Context) (io.ReadCloser, error) {
	return c.openStream(ctx, c.eventsEndpoint("/contacts"), "events.contacts")
}

func contactPath(id int64) string {
	return fmt.Sprintf("/contacts/%d", id)
}
