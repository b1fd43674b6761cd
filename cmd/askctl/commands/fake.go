package commands

import (
	"fmt"
	"time"

	"askhub/internal/store"

	"github.com/spf13/cobra"
)

var (
	// fake 参数
	fakeUsers     int
	fakeQuestions int
	fakeMax       int
	fakeSeed      uint64
)

// fakeCmd 生成开发用的假数据
var fakeCmd = &cobra.Command{
	Use:   "fake",
	Short: "生成假用户、问题、回答、评论与投票",
	Long: `生成开发用的假数据。

Examples:
  askhub-ctl fake                          # 100 个用户，100 个问题
  askhub-ctl fake --users 10 --questions 30 --seed 42`,
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
		seed := fakeSeed
		if seed == 0 {
			seed = uint64(time.Now().UnixNano())
		}
		res, err := st.GenerateFake(ctx, store.FakeOptions{
			Users:      fakeUsers,
			Questions:  fakeQuestions,
			MaxPerItem: fakeMax,
			Seed:       seed,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "users=%d questions=%d answers=%d comments=%d votes=%d\n",
			res.Users, res.Questions, res.Answers, res.Comments, res.Votes)
		return nil
	},
}

func init() {
	fakeCmd.Flags().IntVar(&fakeUsers, "users", 100, "用户数")
	fakeCmd.Flags().IntVar(&fakeQuestions, "questions", 100, "问题数")
	fakeCmd.Flags().IntVar(&fakeMax, "max-per-item", 10, "每项最多生成的回答 / 评论 / 投票数")
	fakeCmd.Flags().Uint64Var(&fakeSeed, "seed", 0, "随机种子，0 表示使用当前时间")
	rootCmd.AddCommand(fakeCmd)
}
