package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// deployCmd 迁移数据表、写入角色并补齐自关注
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "初始化或升级数据库",
	Long: `创建或更新全部数据表，写入预置角色（User / Moderator / Administrator），
并为缺少自关注记录的用户补齐关注关系。可重复执行。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, _, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		if err := st.InsertRoles(ctx); err != nil {
			return err
		}
		def, err := st.DefaultRole(ctx)
		if err != nil {
			return fmt.Errorf("check default role: %w", err)
		}
		n, err := st.AddSelfFollows(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deploy finished, default role %s, %d self follows added\n", def.Name, n)
		return nil
	},
}

// selfFollowsCmd 单独执行自关注修复
var selfFollowsCmd = &cobra.Command{
	Use:   "self-follows",
	Short: "为所有用户补齐自关注记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, _, _, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.AddSelfFollows(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d self follows added\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(selfFollowsCmd)
}
