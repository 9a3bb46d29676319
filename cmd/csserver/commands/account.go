package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rsteinwert/csserver/pkg/config"
	"github.com/rsteinwert/csserver/pkg/identity"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts (create, list, delete)",
}

var (
	accountUsername string
	accountEmail    string
	accountForce    bool
)

var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new account",
	RunE:  runAccountCreate,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all accounts",
	RunE:  runAccountList,
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete <uid>",
	Short: "Delete an account by uid",
	Args:  cobra.ExactArgs(1),
	RunE:  runAccountDelete,
}

func init() {
	accountCreateCmd.Flags().StringVar(&accountUsername, "username", "", "account username (prompted if omitted)")
	accountCreateCmd.Flags().StringVar(&accountEmail, "email", "", "account email (prompted if omitted)")

	accountDeleteCmd.Flags().BoolVar(&accountForce, "force", false, "skip the confirmation prompt")

	accountCmd.AddCommand(accountCreateCmd, accountListCmd, accountDeleteCmd)
}

func openIdentityManager() (*identity.Manager, error) {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return nil, err
	}
	return identity.Open(filepath.Join(cfg.Data.RootDir, "accounts"))
}

// promptRequired asks for a single line of text and rejects an empty answer.
func promptRequired(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Validate: func(input string) error {
			if input == "" {
				return fmt.Errorf("%s is required", label)
			}
			return nil
		},
	}
	return p.Run()
}

// promptNewPassword asks for a password twice and requires the two to match.
func promptNewPassword() (string, error) {
	p := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < 8 {
				return errors.New("password must be at least 8 characters")
			}
			return nil
		},
	}
	password, err := p.Run()
	if err != nil {
		return "", err
	}

	confirm := promptui.Prompt{Label: "Confirm password", Mask: '*'}
	confirmed, err := confirm.Run()
	if err != nil {
		return "", err
	}
	if password != confirmed {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

// promptConfirm asks a yes/no question, defaulting to no.
func promptConfirm(label string) (bool, error) {
	p := promptui.Prompt{Label: fmt.Sprintf("%s [y/N]", label), IsConfirm: true}
	_, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func runAccountCreate(cmd *cobra.Command, args []string) error {
	idm, err := openIdentityManager()
	if err != nil {
		return err
	}

	username := accountUsername
	if username == "" {
		username, err = promptRequired("Username")
		if err != nil {
			return err
		}
	}

	email := accountEmail
	if email == "" {
		email, err = promptRequired("Email")
		if err != nil {
			return err
		}
	}

	password, err := promptNewPassword()
	if err != nil {
		return err
	}

	info, err := idm.CreateAccount(username, email, password)
	if err != nil {
		return fmt.Errorf("creating account: %w", err)
	}

	fmt.Printf("account created: uid=%s username=%s\n", info.UID, info.Username)
	return nil
}

// printAccountTable renders accounts against the fixed uid/username/email
// shape of identity.Info rather than going through a generic row builder.
func printAccountTable(accounts []identity.Info) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"UID", "USERNAME", "EMAIL"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, info := range accounts {
		table.Append([]string{info.UID, info.Username, info.Email})
	}
	table.Render()
}

func runAccountList(cmd *cobra.Command, args []string) error {
	idm, err := openIdentityManager()
	if err != nil {
		return err
	}

	printAccountTable(idm.ListAccounts())
	return nil
}

func runAccountDelete(cmd *cobra.Command, args []string) error {
	uid := args[0]

	if !accountForce {
		ok, err := promptConfirm(fmt.Sprintf("Delete account %s?", uid))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	idm, err := openIdentityManager()
	if err != nil {
		return err
	}
	if err := idm.DeleteAccount(uid); err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}

	fmt.Printf("account %s deleted\n", uid)
	return nil
}
