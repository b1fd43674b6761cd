package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"askhub/internal/model"
	"askhub/internal/store"

	"github.com/spf13/cobra"
)

// deleteUserCmd 删除用户及其关注关系，内容保留
var deleteUserCmd = &cobra.Command{
	Use:   "delete-user <id|email|username>",
	Short: "删除用户",
	Long: `删除用户账号及其全部关注关系。用户发布的问题、回答与评论保留。

Examples:
  askhub-ctl delete-user 42
  askhub-ctl delete-user john@example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, _, appLogger, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		key := strings.TrimSpace(args[0])
		var u *model.User
		switch id, convErr := strconv.ParseUint(key, 10, 64); {
		case convErr == nil:
			u, err = st.GetUser(ctx, uint(id))
		case strings.Contains(key, "@"):
			u, err = st.GetUserByEmail(ctx, strings.ToLower(key))
		default:
			u, err = st.GetUserByUsername(ctx, key)
		}
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("user %q not found", key)
		}
		if err != nil {
			return err
		}

		if err := st.DeleteUser(ctx, u.ID); err != nil {
			return err
		}
		appLogger.Info("user deleted", slog.Uint64("user_id", uint64(u.ID)), slog.String("username", u.Username))
		fmt.Fprintf(cmd.OutOrStdout(), "deleted user %d (%s)\n", u.ID, u.Username)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteUserCmd)
}
