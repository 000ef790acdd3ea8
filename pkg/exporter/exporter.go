package exporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/klog"

	"github.com/bcaldwell/plaid2qfx/pkg/config"
	"github.com/bcaldwell/plaid2qfx/pkg/output"
	"github.com/bcaldwell/plaid2qfx/pkg/plaid"
	"github.com/bcaldwell/plaid2qfx/pkg/qfx"
	"github.com/bcaldwell/plaid2qfx/pkg/state"
	"github.com/bcaldwell/plaid2qfx/pkg/statement"
)

var ErrUnknownItem = errors.New("unknown item")

// Source is where accounts and transactions come from.
type Source interface {
	Accounts(ctx context.Context, accessToken string) ([]statement.RawAccount, error)
	Item(ctx context.Context, accessToken string) (plaid.ItemInfo, error)
	Sync(ctx context.Context, accessToken, cursor string) (*plaid.Page, error)
}

// Reauthorizer walks the user through logging in to an item again.
type Reauthorizer interface {
	Reauthorize(ctx context.Context, item config.Item, accessToken string) error
}

// Recorder stores metrics about exported statements.
type Recorder interface {
	Record(item string, fragments []statement.Fragment, t time.Time) error
}

type Options struct {
	Source       Source
	Reauthorizer Reauthorizer
	Writer       output.Writer
	Store        state.Store
	// Recorder is optional
	Recorder Recorder

	Config  *config.Config
	Secrets *config.Secrets
	// ConfigFile receives config changes discovered while exporting, such as
	// a new institution id. Empty keeps them in memory only.
	ConfigFile string
	// Only limits the export to the item with this name
	Only string
}

type ExportRunner struct {
	source     Source
	reauth     Reauthorizer
	writer     output.Writer
	store      state.Store
	recorder   Recorder
	config     *config.Config
	secrets    *config.Secrets
	configFile string
	only       string
	now        func() time.Time
}

// Summary describes what one export run produced.
type Summary struct {
	Files        []string
	Transactions int
	Warnings     []statement.Warning
}

type itemExport struct {
	item     config.Item
	cursor   string
	result   *statement.Result
	syncAsOf time.Time
}

func NewExportRunner(opts Options) *ExportRunner {
	return &ExportRunner{
		source:     opts.Source,
		reauth:     opts.Reauthorizer,
		writer:     opts.Writer,
		store:      opts.Store,
		recorder:   opts.Recorder,
		config:     opts.Config,
		secrets:    opts.Secrets,
		configFile: opts.ConfigFile,
		only:       opts.Only,
		now:        time.Now,
	}
}

func (r *ExportRunner) Run() error {
	_, err := r.Export(context.Background())
	return err
}

func (r *ExportRunner) Export(ctx context.Context) (*Summary, error) {
	items, err := r.items()
	if err != nil {
		return nil, err
	}

	opts, err := r.config.BindOptions()
	if err != nil {
		return nil, err
	}

	summary := &Summary{}

	if r.config.MergeOutput {
		return summary, r.exportMerged(ctx, items, opts, summary)
	}

	for _, item := range items {
		export, err := r.fetchItem(ctx, item, opts, summary)
		if err != nil {
			return summary, fmt.Errorf("failed to export %s: %w", item.Name, err)
		}
		if export == nil {
			continue
		}

		institution := statement.Institution{
			Label: item.Name,
			FID:   item.RoutingNumber,
			BID:   item.BID,
		}

		err = r.write(ctx, item.Name, institution, export.syncAsOf, export.result.Fragments, summary)
		if err != nil {
			return summary, fmt.Errorf("failed to export %s: %w", item.Name, err)
		}

		if err := r.store.SaveCursor(ctx, item.Name, export.cursor); err != nil {
			return summary, err
		}

		r.record(item.Name, export.result.Fragments, export.syncAsOf)
	}

	return summary, nil
}

func (r *ExportRunner) exportMerged(ctx context.Context, items []config.Item, opts statement.BindOptions, summary *Summary) error {
	var exports []*itemExport
	// items without new transactions still move their cursor forward
	cursors := map[string]string{}

	for _, item := range items {
		export, err := r.fetchItem(ctx, item, opts, summary)
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", item.Name, err)
		}
		if export == nil {
			continue
		}
		exports = append(exports, export)
		cursors[item.Name] = export.cursor
	}

	if len(exports) > 0 {
		var fragments []statement.Fragment
		var serverTime time.Time
		var first *itemExport

		for _, export := range exports {
			if len(export.result.Fragments) > 0 && first == nil {
				first = export
			}
			fragments = append(fragments, export.result.Fragments...)
			if export.syncAsOf.After(serverTime) {
				serverTime = export.syncAsOf
			}
		}

		institution := r.mergedInstitution(first)
		if err := r.write(ctx, output.MergedLabel, institution, serverTime, fragments, summary); err != nil {
			return fmt.Errorf("failed to export %s: %w", output.MergedLabel, err)
		}

		for _, export := range exports {
			r.record(export.item.Name, export.result.Fragments, export.syncAsOf)
		}
	}

	for _, item := range items {
		if cursor, ok := cursors[item.Name]; ok {
			if err := r.store.SaveCursor(ctx, item.Name, cursor); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *ExportRunner) mergedInstitution(first *itemExport) statement.Institution {
	merged := r.config.Merged
	institution := statement.Institution{
		Label: merged.Org,
		FID:   merged.Fid,
		BID:   merged.BID,
	}

	if first == nil {
		return institution
	}

	if institution.Label == "" {
		institution.Label = first.item.Name
	}
	if institution.FID == "" {
		institution.FID = first.item.RoutingNumber
	}
	if institution.BID == "" {
		institution.BID = first.item.BID
	}

	return institution
}

// fetchItem downloads and builds the statements of one item. A nil export
// means there was nothing new to write.
func (r *ExportRunner) fetchItem(ctx context.Context, item config.Item, opts statement.BindOptions, summary *Summary) (*itemExport, error) {
	if _, err := r.accessToken(item); err != nil {
		return nil, err
	}

	var accounts []statement.RawAccount
	err := r.withReauth(ctx, item, func(token string) error {
		var err error
		accounts, err = r.source.Accounts(ctx, token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}

	cursor, err := r.store.Cursor(ctx, item.Name)
	if err != nil {
		return nil, err
	}

	klog.Infof("Loading transactions for %s\n", item.Name)
	var changes *plaid.Changes
	err = r.withReauth(ctx, item, func(token string) error {
		var err error
		changes, err = plaid.Drain(ctx, cursor, func(ctx context.Context, cursor string) (*plaid.Page, error) {
			return r.source.Sync(ctx, token, cursor)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sync transactions: %w", err)
	}

	summary.Warnings = append(summary.Warnings, unsupportedChanges(changes)...)

	if len(changes.Added) == 0 {
		klog.Infof("No transactions to process for %s\n", item.Name)
		// nothing to write, so the cursor can move on right away
		if err := r.store.SaveCursor(ctx, item.Name, changes.Cursor); err != nil {
			return nil, err
		}
		return nil, nil
	}
	klog.Infof("Processing %d transactions for %s\n", len(changes.Added), item.Name)

	var info plaid.ItemInfo
	err = r.withReauth(ctx, item, func(token string) error {
		var err error
		info, err = r.source.Item(ctx, token)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	summary.Warnings = append(summary.Warnings, r.checkInstitution(item, info)...)

	syncAsOf := info.LastSuccessfulUpdate
	if syncAsOf.IsZero() {
		syncAsOf = r.now()
	}
	klog.Infof("Transactions for %s were last updated in Plaid on %s\n", item.Name, syncAsOf.Format(time.RFC1123))

	result, err := statement.Build(statement.Input{
		Accounts:      accounts,
		Transactions:  changes.Added,
		RoutingNumber: item.RoutingNumber,
		SyncAsOf:      syncAsOf,
		Options:       opts,
	})
	if err != nil {
		return nil, err
	}
	summary.Warnings = append(summary.Warnings, result.Warnings...)

	return &itemExport{
		item:     item,
		cursor:   changes.Cursor,
		result:   result,
		syncAsOf: syncAsOf,
	}, nil
}

func (r *ExportRunner) write(ctx context.Context, label string, institution statement.Institution, serverTime time.Time, fragments []statement.Fragment, summary *Summary) error {
	doc, err := statement.Compose(fragments, institution, serverTime)
	if err != nil {
		return err
	}

	body, err := qfx.Marshal(doc)
	if err != nil {
		return err
	}

	path, err := r.writer.Write(ctx, output.FileName(label, r.now()), body)
	if err != nil {
		return err
	}

	klog.Infof("Successfully exported %d transactions to: %s\n", doc.TransactionCount(), path)
	summary.Files = append(summary.Files, path)
	summary.Transactions += doc.TransactionCount()
	return nil
}

func (r *ExportRunner) record(item string, fragments []statement.Fragment, t time.Time) {
	if r.recorder == nil {
		return
	}

	if err := r.recorder.Record(item, fragments, t); err != nil {
		klog.Errorf("Failed to record metrics for %s: %v\n", item, err)
	}
}

func (r *ExportRunner) items() ([]config.Item, error) {
	if r.only == "" {
		return r.config.Items, nil
	}

	item, ok := r.config.Item(r.only)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, r.only)
	}
	return []config.Item{*item}, nil
}

func (r *ExportRunner) accessToken(item config.Item) (string, error) {
	token := r.secrets.AccessTokens[item.Name]
	if token == "" {
		return "", fmt.Errorf("%w: no access token for item %s", config.ErrConfig, item.Name)
	}
	return token, nil
}

// checkInstitution updates the stored institution id when Plaid reports a
// different one.
func (r *ExportRunner) checkInstitution(item config.Item, info plaid.ItemInfo) []statement.Warning {
	if info.InstitutionID == "" || info.InstitutionID == item.InstitutionID {
		return nil
	}

	var warns []statement.Warning
	if item.InstitutionID != "" {
		w := statement.Warning{
			Kind:   statement.WarnInstitutionMismatch,
			Detail: fmt.Sprintf("item %s reports institution %s but %s is configured, updating config", item.Name, info.InstitutionID, item.InstitutionID),
		}
		w.Log()
		warns = append(warns, w)
	}

	if stored, ok := r.config.Item(item.Name); ok {
		stored.InstitutionID = info.InstitutionID
	}
	if r.configFile != "" {
		if err := config.WriteConfig(r.configFile, r.config); err != nil {
			klog.Errorf("Failed to save institution id for %s: %v\n", item.Name, err)
		}
	}

	return warns
}

func unsupportedChanges(changes *plaid.Changes) []statement.Warning {
	var warns []statement.Warning

	if len(changes.Modified) > 0 {
		w := statement.Warning{
			Kind:   statement.WarnUnsupportedChange,
			Detail: fmt.Sprintf("%d modified transactions can not be expressed in QFX and are not exported", len(changes.Modified)),
		}
		w.Log()
		warns = append(warns, w)
	}

	if len(changes.Removed) > 0 {
		w := statement.Warning{
			Kind:   statement.WarnUnsupportedChange,
			Detail: fmt.Sprintf("%d removed transactions can not be expressed in QFX and are not exported", len(changes.Removed)),
		}
		w.Log()
		warns = append(warns, w)
	}

	return warns
}
