package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"pgmon/internal/auth"
	"pgmon/internal/domain"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	createUserRole  string
	createUserEmail string
)

// createUserCmd creates a user account in the warehouse
var createUserCmd = &cobra.Command{
	Use:   "create-user <login>",
	Short: "Create a user account",
	Long: `Create a user account in the warehouse. The password is prompted
for interactively and stored as a bcrypt hash.`,
	Args: cobra.ExactArgs(1),
	RunE: runCreateUser,
}

// listUsersCmd lists the user accounts in the warehouse
var listUsersCmd = &cobra.Command{
	Use:     "list-users",
	Aliases: []string{"users"},
	Short:   "List user accounts",
	RunE:    runListUsers,
}

func init() {
	createUserCmd.Flags().StringVar(&createUserRole, "role", "viewer", "account role (admin, operator, viewer)")
	createUserCmd.Flags().StringVar(&createUserEmail, "email", "", "contact email")

	adminCmd.AddCommand(createUserCmd)
	adminCmd.AddCommand(listUsersCmd)
}

func runCreateUser(cmd *cobra.Command, args []string) error {
	login := strings.TrimSpace(args[0])
	if login == "" {
		return fmt.Errorf("login must not be empty")
	}

	role := domain.UserRole(createUserRole)
	if !role.IsValid() {
		return fmt.Errorf("invalid role %q, use admin, operator, or viewer", createUserRole)
	}

	password, err := promptPassword()
	if err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	store, err := openStore(cmdCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	user := &domain.User{
		Login:        login,
		PasswordHash: hash,
		Role:         role,
		Email:        createUserEmail,
		IsActive:     true,
	}
	if err := store.Users().Create(cmdCtx, user); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("Created user %q with role %s\n", login, role)
	return nil
}

func runListUsers(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmdCtx)
	if err != nil {
		return err
	}
	defer store.Close()

	users, err := store.Users().List(cmdCtx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	if len(users) == 0 {
		fmt.Println("No users found")
		return nil
	}

	// Display users in a table
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LOGIN\tROLE\tEMAIL\tACTIVE\tCREATED\tLAST LOGIN")
	fmt.Fprintln(w, "-----\t----\t-----\t------\t-------\t----------")

	for _, u := range users {
		lastLogin := "never"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n",
			u.Login, u.Role, u.Email, u.IsActive,
			u.CreatedAt.Format("2006-01-02 15:04"), lastLogin)
	}

	w.Flush()

	fmt.Printf("\nTotal: %d user(s)\n", len(users))
	return nil
}

// promptPassword reads and confirms a password without echoing it.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}
	if string(password) != string(confirm) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(password), nil
}
