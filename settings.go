package solsync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const resourceScript = "script"

// Script returns the operators' approach script. It is always revalidated
// with the backend; a missing script (404) reads as empty.
func (c *Client) Script(ctx context.Context) (ScriptSettings, error) {
	plan := fetchPlan{
		key:      ScriptKey,
		resource: resourceScript,
		timeout:  c.cfg.ListTimeout,
	}
	return revalidate[ScriptSettings](ctx, c, plan, func(ctx context.Context, validator string) (conditionalResponse[ScriptSettings], error) {
		res, err := c.getConditional(ctx, "/settings/script", nil, validator, "settings.script")
		if err != nil {
			return conditionalResponse[ScriptSettings]{}, err
		}
		switch {
		case res.notModified():
			return conditionalResponse[ScriptSettings]{NotModified: true}, nil
		case res.status == http.StatusNotFound:
			return conditionalResponse[ScriptSettings]{}, nil
		case res.status < 200 || res.status > 299:
			return conditionalResponse[ScriptSettings]{}, newAPIError(res.status, res.body, "failed to load script")
		}
		var s ScriptSettings
		if err := json.Unmarshal(res.body, &s); err != nil {
			return conditionalResponse[ScriptSettings]{}, err
		}
		return conditionalResponse[ScriptSettings]{Validator: res.etag, Payload: s}, nil
	})
}

// ScriptSnapshot returns the last persisted script, if fresh enough.
func (c *Client) ScriptSnapshot(ctx context.Context) (ScriptSettings, bool) {
	var s ScriptSettings
	if !c.readSnapshot(ctx, ScriptKey, &s) {
		return ScriptSettings{}, false
	}
	return s, true
}

// SaveScript stores a new script. Backends that answer with an empty or
// non-JSON body get the saved text echoed back. The result is published as
// the script snapshot right away.
func (c *Client) SaveScript(ctx context.Context, script string) (ScriptSettings, error) {
	payload, err := json.Marshal(ScriptSettings{Script: script})
	if err != nil {
		return ScriptSettings{}, err
	}
	req, err := c.newRequest(ctx, http.MethodPut, "/settings/script", nil, strings.NewReader(string(payload)))
	if err != nil {
		return ScriptSettings{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.send(req, "settings.script.save", true)
	if err != nil {
		return ScriptSettings{}, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, "failed to save script"); err != nil {
		return ScriptSettings{}, err
	}
	c.cache.invalidateKey(ScriptKey)

	saved := ScriptSettings{Script: script, OK: true}
	if body, err := io.ReadAll(resp.Body); err == nil && len(strings.TrimSpace(string(body))) > 0 {
		var s ScriptSettings
		if json.Unmarshal(body, &s) == nil {
			saved = s
		}
	}
	c.writeSnapshot(ctx, ScriptKey, saved)
	return saved, nil
}
