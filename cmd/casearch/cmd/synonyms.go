package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/output"
	"github.com/JCHanratty/CASearch/internal/search"
	"github.com/JCHanratty/CASearch/internal/store"
)

func newSynonymsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synonyms",
		Short: "Manage the synonyms used for query expansion",
		Long: `Manage custom synonyms. Custom groups are stored in the index database
and merged with the built-in collective agreement vocabulary at search
time: a query term matching any word of a group also matches the others.`,
	}

	cmd.AddCommand(newSynonymsListCmd(root))
	cmd.AddCommand(newSynonymsAddCmd(root))
	cmd.AddCommand(newSynonymsImportCmd(root))
	cmd.AddCommand(newSynonymsDeleteCmd(root))

	return cmd
}

func newSynonymsListCmd(root *rootOptions) *cobra.Command {
	var (
		builtin bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List custom synonym groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := output.New(cmd.OutOrStdout())

			var groups map[string][]string
			if builtin {
				groups = search.BuiltinSynonyms
			} else {
				ws, err := openWorkspace(root, false)
				if err != nil {
					return err
				}
				defer func() { _ = ws.Close() }()

				rows, err := ws.docs.ListSynonyms(cmd.Context())
				if err != nil {
					return err
				}
				groups = search.SynonymsToMap(rows)
			}

			if asJSON {
				if groups == nil {
					groups = map[string][]string{}
				}
				return out.JSON(groups)
			}
			if len(groups) == 0 {
				out.Status("", "No custom synonyms. Add some with 'casearch synonyms add' or 'casearch synonyms import'")
				return nil
			}
			terms := make([]string, 0, len(groups))
			for term := range groups {
				terms = append(terms, term)
			}
			sort.Strings(terms)
			for _, term := range terms {
				out.Statusf("", "%s: %s", term, strings.Join(groups[term], ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&builtin, "builtin", false, "List the built-in synonyms instead")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newSynonymsAddCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <term> <synonym>...",
		Short: "Add synonyms for a term",
		Example: `  casearch synonyms add "stat holiday" "statutory holiday" "paid holiday"`,
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(root, true)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			ctx := cmd.Context()
			rows, err := ws.docs.ListSynonyms(ctx)
			if err != nil {
				return err
			}
			term := synonymTerm(args[0])
			var added []string
			for _, a := range args[1:] {
				if syn := synonymTerm(a); syn != "" && syn != term {
					added = append(added, syn)
				}
			}
			if term == "" || len(added) == 0 {
				return caserrors.ValidationError("a term and at least one different synonym are required", nil)
			}
			merged := search.MergeSynonyms(search.SynonymsToMap(rows), map[string][]string{term: added})

			if err := ws.docs.SaveSynonyms(ctx, []store.Synonym{{Term: term, Synonyms: merged[term]}}); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("%s: %s", term, strings.Join(merged[term], ", "))
			return nil
		},
	}
}

func newSynonymsImportCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import synonyms from a .csv or .json file",
		Long: `Import synonym groups from a file. CSV rows are term,synonym,synonym,...
and JSON is an object of term to list of synonyms. Imported groups replace
existing groups for the same term.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups, err := search.LoadSynonymFile(args[0])
			if err != nil {
				return caserrors.ValidationError("failed to read synonym file", err)
			}
			if len(groups) == 0 {
				return caserrors.ValidationError(fmt.Sprintf("no synonym groups in %s", args[0]), nil)
			}

			ws, err := openWorkspace(root, true)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			if err := ws.docs.SaveSynonyms(cmd.Context(), search.MapToSynonyms(groups)); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Imported %d synonym groups", len(groups))
			return nil
		},
	}
}

func newSynonymsDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <term>",
		Short: "Delete the custom synonyms for a term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWorkspace(root, false)
			if err != nil {
				return err
			}
			defer func() { _ = ws.Close() }()

			if err := ws.docs.DeleteSynonym(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return caserrors.ValidationError(fmt.Sprintf("no custom synonyms for %q", args[0]), err)
				}
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted synonyms for %q", args[0])
			return nil
		},
	}
}

// synonymTerm lowercases s and collapses its whitespace.
func synonymTerm(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
