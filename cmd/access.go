package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"Fanvault/core/access"
	"Fanvault/db"
	"Fanvault/model"
	"Fanvault/repository"

	"github.com/spf13/cobra"
)

// openDatabase connects and migrates the media schema for an admin command.
// The returned func closes the connection.
func openDatabase() (func(), error) {
	if err := db.ConnectGormDB(cfg); err != nil {
		return nil, err
	}
	if err := db.AutoMigrateModels(); err != nil {
		db.CloseGormDB()
		return nil, err
	}
	return func() { db.CloseGormDB() }, nil
}

func withAccessRepo(run func(ctx context.Context, repo repository.AccessRepository, out io.Writer, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		closeDB, err := openDatabase()
		if err != nil {
			return err
		}
		defer closeDB()
		return run(ctx, repository.NewGormAccessRepository(db.GormDB), cmd.OutOrStdout(), args)
	}
}

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "角色与媒体授权管理",
	Long:  `为主体分配角色、授予或撤销单个媒体的访问权限，并查看访问判定结果。`,
}

var accessGrantCmd = &cobra.Command{
	Use:   "grant <principal> <assetId>",
	Short: "授予主体访问单个媒体",
	Args:  cobra.ExactArgs(2),
	RunE:  withAccessRepo(runGrant),
}

var accessRevokeCmd = &cobra.Command{
	Use:   "revoke <principal> <assetId>",
	Short: "撤销主体对单个媒体的访问",
	Args:  cobra.ExactArgs(2),
	RunE:  withAccessRepo(runRevoke),
}

var accessRoleCmd = &cobra.Command{
	Use:   "role <principal> <role>",
	Short: "为主体分配角色 (operator|admin|creator|fan)",
	Args:  cobra.ExactArgs(2),
	RunE:  withAccessRepo(runAssignRole),
}

var accessShowCmd = &cobra.Command{
	Use:   "show <principal> [assetId]",
	Short: "查看主体角色，及其对某个媒体的访问判定",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  withAccessRepo(runShowAccess),
}

func runGrant(ctx context.Context, repo repository.AccessRepository, out io.Writer, args []string) error {
	if err := repo.Grant(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("grant %s on %s: %w", args[0], args[1], err)
	}
	fmt.Fprintf(out, "granted %s access to %s\n", args[0], args[1])
	return nil
}

func runRevoke(ctx context.Context, repo repository.AccessRepository, out io.Writer, args []string) error {
	if err := repo.Revoke(ctx, args[0], args[1]); err != nil {
		return fmt.Errorf("revoke %s on %s: %w", args[0], args[1], err)
	}
	fmt.Fprintf(out, "revoked %s access to %s\n", args[0], args[1])
	return nil
}

func runAssignRole(ctx context.Context, repo repository.AccessRepository, out io.Writer, args []string) error {
	role, err := model.ParseRole(args[1])
	if err != nil {
		return err
	}
	if err := repo.AssignRole(ctx, args[0], role); err != nil {
		return fmt.Errorf("assign %s to %s: %w", role, args[0], err)
	}
	fmt.Fprintf(out, "assigned role %s to %s\n", role, args[0])
	return nil
}

func runShowAccess(ctx context.Context, repo repository.AccessRepository, out io.Writer, args []string) error {
	principal := args[0]
	roles, err := repo.RolesFor(ctx, principal)
	if err != nil {
		return err
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	if len(names) == 0 {
		names = []string{"-"}
	}

	guard := access.NewGuard(repo, repo)
	fmt.Fprintf(out, "principal:  %s\n", principal)
	fmt.Fprintf(out, "roles:      %s\n", strings.Join(names, ","))
	fmt.Fprintf(out, "privileged: %v\n", guard.IsPrivileged(ctx, principal))
	if len(args) == 2 {
		decision := "denied"
		if class, err := guard.Authorize(ctx, principal, args[1]); err == nil {
			decision = "allowed (" + string(class) + ")"
		}
		fmt.Fprintf(out, "asset %s: %s\n", args[1], decision)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(accessCmd)
	accessCmd.AddCommand(accessGrantCmd, accessRevokeCmd, accessRoleCmd, accessShowCmd)

	accessCmd.Example = `  fanvault access role u42 operator
  fanvault access grant fan7 a1
  fanvault access show fan7 a1
  fanvault access revoke fan7 a1`
}
