package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tinygraph/tinygraph/envconfig"
	"github.com/tinygraph/tinygraph/format"
	"github.com/tinygraph/tinygraph/fs/gguf"
	"github.com/tinygraph/tinygraph/logutil"
	"github.com/tinygraph/tinygraph/runner"
	"github.com/tinygraph/tinygraph/version"
)

// parseInput parses a comma separated list of floats. An empty string is n
// zeros.
func parseInput(s string, n int) ([]float32, error) {
	if strings.TrimSpace(s) == "" {
		return make([]float32, n), nil
	}

	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("input has %d values, model expects %d", len(parts), n)
	}

	values := make([]float32, n)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("input value %d: %w", i, err)
		}
		values[i] = float32(f)
	}

	return values, nil
}

func RunHandler(cmd *cobra.Command, args []string) error {
	p, err := runner.New(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer p.Close()

	s, err := cmd.Flags().GetString("input")
	if err != nil {
		return err
	}

	input, err := parseInput(s, p.Inputs())
	if err != nil {
		return err
	}

	output, err := p.Infer(input)
	if err != nil {
		return err
	}

	for _, v := range output {
		fmt.Fprintf(cmd.OutOrStdout(), "%f\n", v)
	}

	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// writeTable renders rows as an aligned table on terminals and as tab
// separated values otherwise.
func writeTable(w io.Writer, header []string, rows [][]string) {
	if !isTerminal(w) {
		for _, row := range rows {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(rows)
	table.Render()
}

func ShowHandler(cmd *cobra.Command, args []string) error {
	f, err := gguf.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	showKV, err := cmd.Flags().GetBool("kv")
	if err != nil {
		return err
	}

	if showKV {
		var rows [][]string
		for _, kv := range f.KeyValues() {
			rows = append(rows, []string{kv.Key, kv.Format()})
		}

		writeTable(cmd.OutOrStdout(), []string{"KEY", "VALUE"}, rows)
		return nil
	}

	var rows [][]string
	for _, ti := range f.TensorInfos() {
		shape := make([]string, len(ti.Shape))
		for i, dim := range ti.Shape {
			shape[i] = strconv.FormatUint(dim, 10)
		}

		rows = append(rows, []string{
			ti.Name,
			ti.Type.String(),
			"[" + strings.Join(shape, ", ") + "]",
			format.HumanNumber(ti.NumValues()),
			format.HumanBytes2(ti.NumBytes()),
			strconv.FormatInt(f.DataOffset()+int64(ti.Offset), 10),
		})
	}

	writeTable(cmd.OutOrStdout(), []string{"NAME", "TYPE", "SHAPE", "VALUES", "SIZE", "OFFSET"}, rows)
	return nil
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "tinygraph version is %s\n", version.Version)
}

func appendEnvDocs(cmd *cobra.Command) {
	vars := envconfig.AsMap()
	names := slices.Sorted(maps.Keys(vars))

	const envUsage = `
Environment Variables:
`
	var b strings.Builder
	b.WriteString(envUsage)
	for _, name := range names {
		fmt.Fprintf(&b, "      %-24s %s\n", vars[name].Name, vars[name].Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + b.String())
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tinygraph MODEL",
		Short: "Evaluate a perceptron stored in a GGUF file",
		Args:  cobra.ExactArgs(1),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		RunE: RunHandler,
	}

	rootCmd.Flags().String("input", "", "Comma separated input values (default all zeros)")

	cobra.EnableCommandSorting = false

	showCmd := &cobra.Command{
		Use:   "show MODEL",
		Short: "Show the tensors of a model file",
		Args:  cobra.ExactArgs(1),
		RunE:  ShowHandler,
	}

	showCmd.Flags().Bool("kv", false, "Show metadata key-value pairs instead of tensors")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}

	appendEnvDocs(rootCmd)

	rootCmd.AddCommand(showCmd, versionCmd)

	return rootCmd
}
