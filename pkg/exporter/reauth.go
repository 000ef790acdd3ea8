package exporter

import (
	"context"
	"fmt"

	"k8s.io/klog"

	"github.com/bcaldwell/plaid2qfx/pkg/config"
	"github.com/bcaldwell/plaid2qfx/pkg/plaid"
)

// withReauth runs call with the item's access token. When Plaid says the
// item needs a new login the user is sent through update mode once and the
// call is retried once. A second failure is returned as is.
func (r *ExportRunner) withReauth(ctx context.Context, item config.Item, call func(token string) error) error {
	token, err := r.accessToken(item)
	if err != nil {
		return err
	}

	err = call(token)
	if !plaid.IsLoginRequired(err) || r.reauth == nil {
		return err
	}

	klog.Warningf("%s needs to log in to its institution again: %v\n", item.Name, err)
	if err := r.reauth.Reauthorize(ctx, item, token); err != nil {
		return fmt.Errorf("failed to reauthorize %s: %w", item.Name, err)
	}

	// update mode keeps the access token, but a relink may have stored a new one
	token, err = r.accessToken(item)
	if err != nil {
		return err
	}

	return call(token)
}
