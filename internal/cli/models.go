package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"tokencount/internal/domain"
	"tokencount/internal/models"
)

// RunModels prints the model registry, marking the default set.
func RunModels(stdout io.Writer) error {
	defaults := map[string]bool{}
	for _, id := range models.DefaultIDs {
		defaults[id] = true
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "model\tstrategy\ttokenizer\tcontext_limit\tdefault")
	for _, m := range models.All() {
		tok := m.Encoding
		if m.Strategy == domain.StrategyRemote {
			tok = m.Provider + ":" + m.ProviderModel
		}
		def := ""
		if defaults[m.ID] {
			def = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.ID, m.Strategy, tok, m.ContextLimit, def)
	}
	return tw.Flush()
}
