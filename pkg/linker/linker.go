package linker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"k8s.io/klog"

	"github.com/bcaldwell/plaid2qfx/pkg/config"
	"github.com/bcaldwell/plaid2qfx/pkg/plaid"
	"github.com/bcaldwell/plaid2qfx/pkg/statement"
)

const fidirURL = "https://ofx-prod-filist.intuit.com/qm2400/data/fidir.txt"

var ErrDuplicateItem = errors.New("item name already in use")

type Client interface {
	LinkToken(ctx context.Context, r plaid.LinkTokenRequest) (string, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (string, string, error)
	Item(ctx context.Context, accessToken string) (plaid.ItemInfo, error)
	Institution(ctx context.Context, institutionID string, countryCodes []string) (plaid.Institution, error)
	Accounts(ctx context.Context, accessToken string) ([]statement.RawAccount, error)
}

type Options struct {
	Client     Client
	Config     *config.Config
	ConfigFile string
	// StoreToken saves a new access token. Defaults to encrypting it into
	// SecretsFile.
	StoreToken  func(name, token string) error
	SecretsFile string
	// PageDir is where the Plaid Link page is written
	PageDir string
	In      io.Reader
	Out     io.Writer
}

// Linker runs the interactive flows that need the user in a browser: linking
// a new item and logging in to an existing one again.
type Linker struct {
	client     Client
	config     *config.Config
	configFile string
	storeToken func(name, token string) error
	pageDir    string
	in         *bufio.Reader
	out        io.Writer
}

func New(opts Options) *Linker {
	l := &Linker{
		client:     opts.Client,
		config:     opts.Config,
		configFile: opts.ConfigFile,
		storeToken: opts.StoreToken,
		pageDir:    opts.PageDir,
		out:        opts.Out,
	}

	if l.storeToken == nil {
		secretsFile := opts.SecretsFile
		l.storeToken = func(name, token string) error {
			return config.StoreAccessToken(secretsFile, name, token)
		}
	}
	if l.pageDir == "" {
		l.pageDir = "."
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	l.in = bufio.NewReader(opts.In)
	if l.out == nil {
		l.out = os.Stdout
	}

	return l
}

// Link adds a new item called name.
func (l *Linker) Link(ctx context.Context, name string) (*config.Item, error) {
	var err error
	if name == "" {
		name, err = l.prompt("What name would you like to give this linked item? ", "")
		if err != nil {
			return nil, err
		}
	}
	if name == "" {
		return nil, fmt.Errorf("%w: item name is required", config.ErrConfig)
	}
	if _, ok := l.config.Item(name); ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, name)
	}

	if l.config.ClientUserID == "" {
		l.config.ClientUserID = uuid.NewString()
	}

	linkToken, err := l.client.LinkToken(ctx, plaid.LinkTokenRequest{
		ClientName:   l.config.ClientName,
		ClientUserID: l.config.ClientUserID,
		CountryCodes: l.config.CountryCodes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create link token: %w", err)
	}

	path, err := writePage(l.pageDir, linkPage(linkToken))
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	fmt.Fprintf(l.out, "\nThe next step is to open file://%s in your web browser.\n", path)
	publicToken, err := l.prompt("Enter your public_token from the auth page: ", "")
	if err != nil {
		return nil, err
	}
	publicToken = strings.TrimPrefix(publicToken, "public_token: ")

	accessToken, itemID, err := l.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", err)
	}

	// the token is stored before the item is added to config
	if err := l.storeToken(name, accessToken); err != nil {
		return nil, fmt.Errorf("failed to store access token for %s: %w", name, err)
	}

	info, err := l.client.Item(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	accounts, err := l.client.Accounts(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to get accounts: %w", err)
	}
	PrintAccounts(l.out, accounts)

	routingNumber, err := l.routingNumber(ctx, name, info.InstitutionID)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(l.out, "Quicken requires a BID identifying the bank as a Web Connect participant. Look up your bank in %s, check it offers WEB-CONNECT and enter the BID column.\n", fidirURL)
	bid, err := l.prompt("BID: ", "")
	if err != nil {
		return nil, err
	}

	l.config.Items = append(l.config.Items, config.Item{
		Name:          name,
		ItemID:        itemID,
		InstitutionID: info.InstitutionID,
		RoutingNumber: routingNumber,
		BID:           bid,
	})

	if err := l.saveConfig(); err != nil {
		return nil, err
	}

	klog.Infof("Linked %s (%d accounts)\n", name, len(accounts))
	item, _ := l.config.Item(name)
	return item, nil
}

func (l *Linker) routingNumber(ctx context.Context, name, institutionID string) (string, error) {
	institution, err := l.client.Institution(ctx, institutionID, l.config.CountryCodes)
	if err != nil {
		return "", fmt.Errorf("failed to get institution %s: %w", institutionID, err)
	}

	switch len(institution.RoutingNumbers) {
	case 0:
		fmt.Fprintf(l.out, "Plaid has no routing number for %s. It is only required for bank accounts, leave it empty for credit cards.\n", institution.Name)
		return l.prompt("Routing number: ", "")
	case 1:
		return institution.RoutingNumbers[0], nil
	}

	fmt.Fprintf(l.out, "Known routing numbers for %s:\n", institution.Name)
	for i, rn := range institution.RoutingNumbers {
		fmt.Fprintf(l.out, "  %d) %s\n", i+1, rn)
	}

	for {
		answer, err := l.prompt(fmt.Sprintf("Which routing number should %s use? [1] ", name), "1")
		if err != nil {
			return "", err
		}

		if i, err := strconv.Atoi(answer); err == nil && i >= 1 && i <= len(institution.RoutingNumbers) {
			return institution.RoutingNumbers[i-1], nil
		}
		for _, rn := range institution.RoutingNumbers {
			if rn == answer {
				return rn, nil
			}
		}
		fmt.Fprintf(l.out, "%q is not one of the listed routing numbers\n", answer)
	}
}

// Reauthorize sends the user through Link update mode for item.
func (l *Linker) Reauthorize(ctx context.Context, item config.Item, accessToken string) error {
	linkToken, err := l.client.LinkToken(ctx, plaid.LinkTokenRequest{
		ClientName:   l.config.ClientName,
		ClientUserID: l.config.ClientUserID,
		CountryCodes: l.config.CountryCodes,
		AccessToken:  accessToken,
	})
	if err != nil {
		return fmt.Errorf("failed to create update mode link token: %w", err)
	}

	path, err := writePage(l.pageDir, updatePage(linkToken))
	if err != nil {
		return err
	}
	defer os.Remove(path)

	fmt.Fprintf(l.out, "\n%s needs you to log in again. Open file://%s in your web browser.\n", item.Name, path)
	_, err = l.prompt("Press enter once Link reports success.", "")
	return err
}

// UpdateConfig asks for the general settings and writes them back.
func (l *Linker) UpdateConfig() error {
	if l.config.ClientUserID == "" {
		l.config.ClientUserID = uuid.NewString()
	}

	env, err := l.prompt(fmt.Sprintf("Plaid environment [%s]: ", l.config.Environment), l.config.Environment)
	if err != nil {
		return err
	}
	l.config.Environment = env

	for {
		dir, err := l.prompt(fmt.Sprintf("Where would you like output files stored? [%s]: ", l.config.OutputDir), l.config.OutputDir)
		if err != nil {
			return err
		}
		if validOutput(dir) {
			l.config.OutputDir = dir
			break
		}
		fmt.Fprintf(l.out, "%s doesn't seem to be a directory, please try again\n", dir)
	}

	merge, err := l.prompt(fmt.Sprintf("Merge all items into one file? [%t]: ", l.config.MergeOutput), strconv.FormatBool(l.config.MergeOutput))
	if err != nil {
		return err
	}
	if b, err := strconv.ParseBool(merge); err == nil {
		l.config.MergeOutput = b
	}

	if err := l.config.Validate(); err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	return l.saveConfig()
}

func validOutput(dir string) bool {
	if strings.HasPrefix(dir, "gs://") {
		return true
	}
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

func (l *Linker) saveConfig() error {
	if l.configFile == "" {
		return nil
	}

	if err := config.WriteConfig(l.configFile, l.config); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	fmt.Fprintf(l.out, "Configuration saved to %s\n", l.configFile)
	return nil
}

// Confirm asks a yes or no question, defaulting to no.
func (l *Linker) Confirm(question string) (bool, error) {
	answer, err := l.prompt(question+" (y/n) ", "n")
	if err != nil {
		return false, err
	}

	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (l *Linker) prompt(question, def string) (string, error) {
	fmt.Fprint(l.out, question)

	answer, err := l.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && answer != "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// PrintAccounts lists accounts as "name xMASK : id".
func PrintAccounts(w io.Writer, accounts []statement.RawAccount) {
	fmt.Fprintln(w, "-----------------------")
	fmt.Fprintln(w, "Accounts:")
	for _, a := range accounts {
		fmt.Fprintf(w, "%-32s: %s\n", fmt.Sprintf("  %s x%s", a.Name, a.Mask), a.ID)
	}
	fmt.Fprintln(w, "-----------------------")
}
