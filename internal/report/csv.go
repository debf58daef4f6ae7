package report

import (
	"encoding/csv"
	"io"
	"sort"

	"github.com/vk/sweepgridgo/internal/model"
	"github.com/vk/sweepgridgo/internal/param"
	"github.com/vk/sweepgridgo/internal/pex"
)

// WriteCommandLines prints one command line per generated configuration.
func WriteCommandLines(w io.Writer, gen pex.Node, executable, separator, prefix string) error {
	for _, tuple := range pex.All(gen) {
		if _, err := io.WriteString(w, param.Format(executable, tuple, separator, prefix)+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// WriteConfigurations prints the generator headers followed by one CSV row
// per configuration. Absent parameters and flags leave the cell empty.
func WriteConfigurations(w io.Writer, gen pex.Node) error {
	headers := pex.Headers(gen)
	cw := csv.NewWriter(w)
	if err := cw.Write(headers); err != nil {
		return err
	}
	for _, tuple := range pex.All(gen) {
		row := make([]string, len(headers))
		for i, h := range headers {
			if p, ok := tuple.Get(h); ok {
				row[i] = param.FormatValue(p.Value)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// StatNames returns the sorted stat names of the first experiment.
func StatNames(experiments []*model.Experiment) []string {
	if len(experiments) == 0 {
		return nil
	}
	names := make([]string, 0, len(experiments[0].Stats))
	for k := range experiments[0].Stats {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// WriteExperiments prints one CSV row per experiment: the parameter columns
// in headers order, then the stat columns. Flags print true.
func WriteExperiments(w io.Writer, headers, stats []string, experiments []*model.Experiment) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(append([]string(nil), headers...), stats...)); err != nil {
		return err
	}
	for _, e := range experiments {
		row := make([]string, 0, len(headers)+len(stats))
		for _, h := range headers {
			v, ok := e.Parameters[h]
			switch {
			case !ok:
				row = append(row, "")
			case v == nil:
				row = append(row, "true")
			default:
				row = append(row, param.FormatValue(v))
			}
		}
		for _, s := range stats {
			row = append(row, param.FormatValue(e.Stats[s]))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
