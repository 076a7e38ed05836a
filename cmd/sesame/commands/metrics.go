package commands

import (
	"fmt"
	"io"
	"strings"
)

// writeMetrics prints every non-zero counter in the app registry.
func writeMetrics(w io.Writer) error {
	families, err := appCtx.Registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			v := m.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			labels := make([]string, 0, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				labels = append(labels, lp.GetName()+"="+lp.GetValue())
			}
			fmt.Fprintf(w, "%s{%s} %v\n", mf.GetName(), strings.Join(labels, ","), v)
		}
	}
	return nil
}
