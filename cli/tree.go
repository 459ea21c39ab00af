package cli

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	ltree "github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"

	"github.com/compozy/tasktree/engine/task"
	"github.com/compozy/tasktree/engine/workflow"
	"github.com/compozy/tasktree/pkg/config"
)

func TreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree FILE",
		Short: "Print the initial predicted task tree",
		Args:  cobra.ExactArgs(1),
		RunE:  runTree,
	}
	cmd.Flags().String("state", "ANY", "State mask to show, e.g. READY|FUTURE or PREDICTED")
	return cmd
}

func runTree(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	raw, err := cmd.Flags().GetString("state")
	if err != nil {
		return fmt.Errorf("failed to get state flag: %w", err)
	}
	mask, err := task.ParseState(raw)
	if err != nil {
		return err
	}
	loader, closeFn, err := newLoader(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	p, err := loader.LoadFile(ctx, args[0])
	if err != nil {
		return err
	}
	wf, err := workflow.New(ctx, p, workflow.WithMaxDepth(cfg.Engine.MaxIteratorDepth))
	if err != nil {
		return err
	}
	return renderTree(cmd.OutOrStdout(), wf.Tree(), mask)
}

type treeStyles struct {
	name     lipgloss.Style
	definite lipgloss.Style
	maybe    lipgloss.Style
	finished lipgloss.Style
	enum     lipgloss.Style
}

func newTreeStyles(w io.Writer) treeStyles {
	r := lipgloss.NewRenderer(w)
	return treeStyles{
		name:     r.NewStyle().Bold(true),
		definite: r.NewStyle().Foreground(lipgloss.Color("86")),
		maybe:    r.NewStyle().Foreground(lipgloss.Color("245")).Italic(true),
		finished: r.NewStyle().Foreground(lipgloss.Color("63")),
		enum:     r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

func (s treeStyles) label(t *task.Task) string {
	state := t.State()
	stateStyle := s.definite
	switch {
	case state.Has(task.MaskPredicted):
		stateStyle = s.maybe
	case state.Has(task.MaskFinished):
		stateStyle = s.finished
	}
	label := fmt.Sprintf("%s %s", s.name.Render(t.Spec().Name()), stateStyle.Render(state.String()))
	if t.Spec().Manual() {
		label += " (manual)"
	}
	return label
}

// renderTree prints the tasks matching mask together with the ancestors that
// lead to them.
func renderTree(w io.Writer, tr *task.Tree, mask task.State) error {
	styles := newTreeStyles(w)
	root, ok := buildNode(tr.Root(), mask, styles)
	if !ok {
		_, err := fmt.Fprintf(w, "no tasks in state %s\n", mask)
		return err
	}
	root.EnumeratorStyle(styles.enum)
	_, err := fmt.Fprintln(w, root.String())
	return err
}

func buildNode(t *task.Task, mask task.State, styles treeStyles) (*ltree.Tree, bool) {
	node := ltree.Root(styles.label(t))
	matched := t.State().Has(mask)
	for _, child := range t.Children() {
		sub, ok := buildNode(child, mask, styles)
		if !ok {
			continue
		}
		node.Child(sub)
		matched = true
	}
	return node, matched
}
