package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/pipbot/internal/analysis/transcript"
	"github.com/zhouzirui/pipbot/internal/model/chat"
	"github.com/zhouzirui/pipbot/internal/model/mood"
)

func newScopesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "scopes",
		Short: "List scopes that hold turns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			scopes, err := s.Scopes(cmd.Context())
			if err != nil {
				return err
			}
			for _, scope := range scopes {
				fmt.Fprintln(cmd.OutOrStdout(), scope)
			}
			return nil
		},
	}
}

func newShowCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the newest turns of a scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			limit, _ := cmd.Flags().GetInt("limit")
			render, _ := cmd.Flags().GetBool("render")
			capChars, _ := cmd.Flags().GetInt("cap")
			bot, _ := cmd.Flags().GetString("bot")

			s, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			turns, err := s.RecentTurns(cmd.Context(), scope, limit)
			if err != nil {
				return err
			}
			if !render {
				return writeJSON(cmd.OutOrStdout(), turns)
			}
			f := transcript.Formatter{BotName: "<" + bot + ">"}
			fmt.Fprintln(cmd.OutOrStdout(), f.Render(turns, capChars))
			return nil
		},
	}
	cmd.Flags().StringP("scope", "s", string(chat.ScopeGlobal), "Scope key, e.g. global, channel:<id>, user:<id>")
	cmd.Flags().IntP("limit", "l", 20, "Max turns")
	cmd.Flags().Bool("render", false, "Print the transcript exactly as the model sees it")
	cmd.Flags().Int("cap", 0, "Character cap for --render (0 = uncapped)")
	cmd.Flags().String("bot", "bot", "Bot speaker tag for --render")
	return cmd
}

func newPruneCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest turns of one scope or of every scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			keep, _ := cmd.Flags().GetInt("keep")
			all, _ := cmd.Flags().GetBool("all")
			if !all && scope == "" {
				return fmt.Errorf("either --scope or --all is required")
			}

			s, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			scopes := []string{scope}
			if all {
				if scopes, err = s.Scopes(cmd.Context()); err != nil {
					return err
				}
			}

			var total int64
			for _, sc := range scopes {
				removed, err := s.Prune(cmd.Context(), sc, keep)
				if err != nil {
					return err
				}
				total += removed
			}
			return writeJSON(cmd.OutOrStdout(), map[string]any{"scopes": len(scopes), "removed": total})
		},
	}
	cmd.Flags().StringP("scope", "s", "", "Scope key")
	cmd.Flags().IntP("keep", "k", 20, "Turns to keep")
	cmd.Flags().Bool("all", false, "Prune every scope")
	return cmd
}

func newAppendCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append a turn by hand",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			sender, _ := cmd.Flags().GetString("sender")
			name, _ := cmd.Flags().GetString("name")
			user, _ := cmd.Flags().GetString("user")
			bot, _ := cmd.Flags().GetString("bot")

			s, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			turn, err := s.Append(cmd.Context(), chat.Turn{
				Scope:      scope,
				SenderID:   sender,
				SenderName: name,
				UserText:   user,
				BotText:    bot,
				Timestamp:  time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), turn)
		},
	}
	cmd.Flags().StringP("scope", "s", string(chat.ScopeGlobal), "Scope key")
	cmd.Flags().String("sender", chat.BotSender, "Sender id")
	cmd.Flags().String("name", "", "Sender display name")
	cmd.Flags().String("user", "", "User text")
	cmd.Flags().String("bot", "", "Bot text")
	return cmd
}

func newMoodCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mood",
		Short: "Show or overwrite the persisted mood row",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openStore(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			state, _, err := s.LoadMood(cmd.Context())
			if err != nil {
				return err
			}

			changed := false
			if cmd.Flags().Changed("score") {
				score, _ := cmd.Flags().GetInt("score")
				state.Score = mood.Clamp(score)
				changed = true
			}
			if cmd.Flags().Changed("label") {
				state.Label, _ = cmd.Flags().GetString("label")
				state.Day = mood.DayKey(time.Now())
				changed = true
			}
			if changed {
				state.UpdatedAt = time.Now().UTC()
				if err := s.SaveMood(cmd.Context(), state); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), state)
		},
	}
	cmd.Flags().Int("score", 0, "Set the mood score (clamped to [-10, 10])")
	cmd.Flags().String("label", "", "Set today's mood descriptor")
	return cmd
}
