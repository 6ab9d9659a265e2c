package solsync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// CreateUser registers a new account. Validation failures come back as an
// *APIError carrying the backend's first message.
func (c *Client) CreateUser(ctx context.Context, u NewUser) (User, error) {
	var created User
	err := c.sendJSON(ctx, http.MethodPost, "/users", "users.create", "failed to create user", u, &created)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) || errors.Is(err, ErrUnauthorized) {
			return User{}, err
		}
		return User{}, fmt.Errorf("could not reach the server: %w", err)
	}
	return created, nil
}
