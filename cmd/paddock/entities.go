package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/paddockhq/paddock/pkg/types"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage servers",
}

var teamCmd = &cobra.Command{
	Use:   "team",
	Short: "Manage teams and their permission assignments",
}

var actingUser string

func init() {
	serverCmd.AddCommand(serverListCmd)
	serverCmd.AddCommand(serverActionCmd)
	serverActionCmd.Flags().StringVar(&actingUser, "user", "", "user requesting the action")
	serverActionCmd.MarkFlagRequired("user")

	teamCmd.AddCommand(teamListCmd)
	teamCmd.AddCommand(teamApplyCmd)
	teamCmd.AddCommand(teamDeleteCmd)
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		servers, err := rt.store.ListServers()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-20s  %-15s  %-12s  %s\n", "ID", "NAME", "IPV4", "STATE", "ACTION")
		for _, s := range servers {
			action := "-"
			if s.ActionStatus == types.ActionStatusInProgress {
				action = s.Action
			}
			fmt.Printf("%-36s  %-20s  %-15s  %-12s  %s\n", s.ID, s.Name, s.IPv4, s.CurrentState, action)
		}
		return nil
	},
}

// actionPermissions maps requestable actions to the permission that
// gates them.
var actionPermissions = map[string]string{
	types.ActionOn:     "power_server",
	types.ActionOff:    "power_server",
	types.ActionReboot: "reboot_server",
	types.ActionResize: "resize_server",
	types.ActionDelete: "delete_server",
	types.ActionStatus: "view_server",
}

var serverActionCmd = &cobra.Command{
	Use:   "action <server-id> <action>",
	Short: "Request a provider action on a server",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		serverID, action := args[0], args[1]

		permName, ok := actionPermissions[action]
		if !ok {
			return fmt.Errorf("unknown action %q", action)
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		if !rt.evaluator.CanUser(cmd.Context(), actingUser, permName, serverID) {
			return fmt.Errorf("user %s is not allowed to %s server %s", actingUser, action, serverID)
		}
		if err := rt.lifecycle.RequestServerAction(cmd.Context(), serverID, action); err != nil {
			return err
		}
		fmt.Printf("Action %s requested on server %s\n", action, serverID)
		return nil
	},
}

var teamListCmd = &cobra.Command{
	Use:   "list",
	Short: "List teams",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		teams, err := rt.store.ListTeams()
		if err != nil {
			return err
		}
		fmt.Printf("%-36s  %-24s  %s\n", "ID", "NAME", "MEMBERS")
		for _, t := range teams {
			fmt.Printf("%-36s  %-24s  %d\n", t.ID, t.Name, len(t.Rules))
		}
		return nil
	},
}

// teamFile is the YAML shape accepted by "team apply".
type teamFile struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Rules []struct {
		Member        string  `yaml:"member"`
		IsManager     bool    `yaml:"is_manager"`
		PermissionIDs []int64 `yaml:"permission_ids"`
	} `yaml:"rules"`
}

var teamApplyCmd = &cobra.Command{
	Use:   "apply -f <file>",
	Short: "Create or update a team from a YAML definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := cmd.Flags().GetString("file")
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read team file: %w", err)
		}
		var parsed teamFile
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("parse team file: %w", err)
		}
		t := types.Team{ID: parsed.ID, Name: parsed.Name}
		for _, rule := range parsed.Rules {
			t.Rules = append(t.Rules, types.TeamRule{
				Member:        rule.Member,
				IsManager:     rule.IsManager,
				PermissionIDs: rule.PermissionIDs,
			})
		}

		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		if t.ID == "" {
			if err := rt.teams.CreateTeam(cmd.Context(), &t); err != nil {
				return err
			}
			fmt.Printf("Team %s created\n", t.ID)
			return nil
		}
		if err := rt.teams.SaveTeam(cmd.Context(), &t); err != nil {
			return err
		}
		fmt.Printf("Team %s updated\n", t.ID)
		return nil
	},
}

var teamDeleteCmd = &cobra.Command{
	Use:   "delete <team-id>",
	Short: "Delete a team and revoke its grants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.teams.DeleteTeam(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Team %s deleted\n", args[0])
		return nil
	},
}

func init() {
	teamApplyCmd.Flags().StringP("file", "f", "", "path to team YAML")
	teamApplyCmd.MarkFlagRequired("file")
}
