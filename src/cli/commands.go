package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	versionpkg "unity-references/src/internal/version"
)

// CLI Constants
const (
	CmdServe      = "serve"
	CmdUpdate     = "update"
	CmdStatus     = "status"
	CmdReferences = "references"
	CmdVersion    = "version"
	CmdConfig     = "config"
	CmdConfigInit = "init"
	FlagConfig    = "config"
	FlagForce     = "force"
	FlagCheck     = "check"
	FlagWorkspace = "workspace"
	FlagType      = "type"
	FlagMethod    = "method"
	FlagAssembly  = "assembly"
	FlagJSON      = "json"
	FlagVerbose   = "verbose"
	FlagOverwrite = "overwrite"
)

// CLI Variables
var (
	configPath    string
	force         bool
	checkFeed     bool
	workspacePath string
	typeName      string
	methodName    string
	assemblyName  string
	formatJSON    bool
	verbose       bool
	overwrite     bool
)

// Root command
var rootCmd = &cobra.Command{
	Use:   "unity-references",
	Short: "Unity editor references for C# methods",
	Long: `unity-references finds where the Unity editor uses your C# methods: scene and
prefab event bindings, animation events and other serialized references that no C#
language server can see.

It manages a per-workspace unity-reference-server process, keeps that server
installed and up to date, and exposes the results to editors over stdio.

QUICK START:
  unity-references serve                         # Serve an editor over stdio
  unity-references update                        # Install or update the reference server
  unity-references references Assets/Player.cs --type Player --method Jump

Use 'unity-references <command> --help' for detailed command information.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command definitions
var (
	serveCmd = &cobra.Command{
		Use:   CmdServe,
		Short: "Serve editor requests over stdio",
		Long: `Serve editor requests over stdio using Content-Length framed JSON-RPC.

The editor sends initialize with its workspace folders. Every folder holding a Unity
project with a generated solution gets its own reference server. Besides the LSP
lifecycle the following requests are served:

  unity/status        # Status of every active workspace
  unity/references    # Editor references of the methods of one document
  unity/restart       # Dispose and reactivate all workspaces`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	updateCmd = &cobra.Command{
		Use:   CmdUpdate,
		Short: "Install or update the reference server",
		Long: `Install the newest reference server release compatible with this client into the
data directory. Nothing is installed when the recorded version is already current
unless --force is given.

Examples:
  unity-references update
  unity-references update --force`,
		Args: cobra.NoArgs,
		RunE: runUpdateCmd,
	}

	statusCmd = &cobra.Command{
		Use:   CmdStatus,
		Short: "Show installation and workspace status",
		Long: `Display the server installation, optionally the newest release on the feed and
the live status of a workspace.

Examples:
  unity-references status
  unity-references status --check
  unity-references status --workspace ~/Projects/MyGame`,
		Args: cobra.NoArgs,
		RunE: runStatusCmd,
	}

	referencesCmd = &cobra.Command{
		Use:   CmdReferences + " <file>",
		Short: "List editor references of a method",
		Long: `Start the reference server for the Unity project containing <file> and list
the files referencing a method declared in it. The assembly is taken from the
project that compiles <file> unless --assembly is given.

Examples:
  unity-references references Assets/Scripts/Player.cs --type Player --method Jump
  unity-references references Assets/Scripts/Player.cs --type Game.Player --method Jump --json`,
		Args: cobra.ExactArgs(1),
		RunE: runReferencesCmd,
	}

	configCmd = &cobra.Command{
		Use:   CmdConfig,
		Short: "Manage the configuration file",
	}

	configInitCmd = &cobra.Command{
		Use:   CmdConfigInit,
		Short: "Write the default configuration file",
		Long: `Write a configuration file holding the default settings to the path given with
--config, or to ~/.unity-references/config.yaml.

Examples:
  unity-references config init
  unity-references config init --config ./unity-references.yaml --overwrite`,
		Args: cobra.NoArgs,
		RunE: runConfigInitCmd,
	}

	versionCmd = &cobra.Command{
		Use:   CmdVersion,
		Short: "Show version information",
		Long: `Display version information for unity-references.

Examples:
  unity-references version              # Show version number
  unity-references version --verbose    # Show detailed build information`,
		Args: cobra.NoArgs,
		RunE: runVersionCmd,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, FlagConfig, "c", "", "Configuration file path (optional)")

	updateCmd.Flags().BoolVarP(&force, FlagForce, "f", false, "Reinstall even if already up to date")

	statusCmd.Flags().BoolVar(&checkFeed, FlagCheck, false, "Query the release feed for the newest release")
	statusCmd.Flags().StringVarP(&workspacePath, FlagWorkspace, "w", "", "Start and query the server of this workspace")

	referencesCmd.Flags().StringVarP(&typeName, FlagType, "t", "", "Full name of the type declaring the method")
	referencesCmd.Flags().StringVarP(&methodName, FlagMethod, "m", "", "Method name")
	referencesCmd.Flags().StringVarP(&assemblyName, FlagAssembly, "a", "", "Assembly override")
	referencesCmd.Flags().BoolVar(&formatJSON, FlagJSON, false, "Print the references as JSON")
	_ = referencesCmd.MarkFlagRequired(FlagType)
	_ = referencesCmd.MarkFlagRequired(FlagMethod)

	configInitCmd.Flags().BoolVar(&overwrite, FlagOverwrite, false, "Replace an existing configuration file")
	configCmd.AddCommand(configInitCmd)

	versionCmd.Flags().BoolVarP(&verbose, FlagVerbose, "v", false, "Show detailed version information")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(referencesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServeCmd(cmd *cobra.Command, args []string) error {
	return RunServe(configPath, cmd.InOrStdin(), cmd.OutOrStdout())
}

func runUpdateCmd(cmd *cobra.Command, args []string) error {
	return RunUpdate(cmd.OutOrStdout(), configPath, force)
}

func runStatusCmd(cmd *cobra.Command, args []string) error {
	return ShowStatus(cmd.OutOrStdout(), configPath, StatusOptions{
		CheckFeed: checkFeed,
		Workspace: workspacePath,
	})
}

func runReferencesCmd(cmd *cobra.Command, args []string) error {
	return FindReferences(cmd.OutOrStdout(), configPath, ReferencesOptions{
		File:     args[0],
		TypeName: typeName,
		Method:   methodName,
		Assembly: assemblyName,
		JSON:     formatJSON,
	})
}

func runConfigInitCmd(cmd *cobra.Command, args []string) error {
	return RunConfigInit(cmd.OutOrStdout(), configPath, overwrite)
}

func runVersionCmd(cmd *cobra.Command, args []string) error {
	if verbose {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), versionpkg.GetFullVersionInfo())
	} else {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "unity-references %s\n", versionpkg.GetVersion())
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
