package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/syssam/persist"
	"github.com/syssam/persist/config"
	"github.com/syssam/persist/dialect"
	"github.com/syssam/persist/dialect/sql"
	"github.com/syssam/persist/factory"
)

// Plan describes how a session factory writes each entity.
type Plan struct {
	Variant                 string       `json:"variant"`
	Dialect                 string       `json:"dialect"`
	Comments                bool         `json:"comments"`
	Interceptor             bool         `json:"interceptor"`
	ForceBatchVersionedData bool         `json:"force_batch_versioned_data"`
	Entities                []EntityPlan `json:"entities"`
}

// EntityPlan describes how one entity is written.
type EntityPlan struct {
	Name          string          `json:"name"`
	Table         string          `json:"table"`
	Strategy      string          `json:"strategy"`
	DynamicUpdate bool            `json:"dynamic_update"`
	Identity      string          `json:"identity"`
	Key           []string        `json:"key"`
	Version       string          `json:"version,omitempty"`
	Generated     []GeneratedPlan `json:"generated,omitempty"`
	// Insert is the INSERT statement as sent, or the mutation written.
	Insert string `json:"insert"`
}

// GeneratedPlan describes the read-back of one generated property.
type GeneratedPlan struct {
	Property   string `json:"property"`
	Generation string `json:"generation"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		variant string
		hints   map[string]string
		tag     string
	)
	cmd := &cobra.Command{
		Use:   "plan <mapping.yaml>",
		Short: "Print the write plan of session factory variants",
		Long: `Print, per entity, the write strategy, the dynamic-update flag, the version
property, the read-back of generated properties and the INSERT statement as
it would be sent, for every variant or the one named by --variant.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			hc := dialect.HintContext{Statement: hints, Tag: tag}
			return runPlan(rootOpts, args[0], variant, hc, cmd)
		},
	}
	cmd.Flags().StringVar(&variant, "variant", "", "variant to plan (default all)")
	cmd.Flags().StringToStringVar(&hints, "hint", nil, "statement hint passed to the interceptor (key=value)")
	cmd.Flags().StringVar(&tag, "tag", "", "request tag passed to the interceptor")
	return cmd
}

func runPlan(opts *RootOptions, path, variant string, hc dialect.HintContext, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	f, err := config.Load(path)
	if err != nil {
		_ = out.Error(CodeLoad, err.Error(), nil)
		return WrapExitError(ExitCommandError, "load mapping", err)
	}
	names := f.VariantNames()
	if variant != "" {
		names = []string{variant}
	}
	var plans []*Plan
	for _, name := range names {
		sf, err := f.Build(name, nil, opts.logger(out.errWriter()))
		if err != nil {
			_ = out.Error(CodeBuild, err.Error(), nil)
			return WrapExitError(ExitFailure, "build variant "+name, err)
		}
		p, err := NewPlan(sf, hc)
		if err != nil {
			_ = out.Error(CodeBuild, err.Error(), nil)
			return WrapExitError(ExitFailure, "plan variant "+name, err)
		}
		plans = append(plans, p)
	}
	if out.JSON() {
		return out.Success(plans)
	}
	for i, p := range plans {
		if i > 0 {
			fmt.Fprintln(out.Writer)
		}
		fmt.Fprint(out.Writer, p.String())
	}
	return nil
}

// NewPlan returns the write plan of a session factory. Statements are
// passed through the factory's interceptor with hc.
func NewPlan(sf *factory.SessionFactory, hc dialect.HintContext) (*Plan, error) {
	cfg := sf.Configuration()
	p := &Plan{
		Variant:                 cfg.Name(),
		Dialect:                 cfg.Dialect(),
		Comments:                cfg.EmitComments(),
		Interceptor:             cfg.InterceptorEnabled(),
		ForceBatchVersionedData: cfg.ForceBatchVersionedData(),
	}
	for _, e := range cfg.Entities() {
		ep := EntityPlan{
			Name:          e.Name(),
			Table:         e.Table(),
			Strategy:      e.WriteStrategy().String(),
			DynamicUpdate: e.DynamicUpdate(),
			Identity:      e.Identity().String(),
		}
		for _, k := range e.Key() {
			ep.Key = append(ep.Key, k.Name())
		}
		if v, ok := e.Version(); ok {
			ep.Version = v.Name()
		}
		var cols []string
		for _, prop := range e.Properties() {
			d, err := e.Field(prop)
			if err != nil {
				return nil, err
			}
			if d.Computed {
				ep.Generated = append(ep.Generated, GeneratedPlan{Property: d.Name, Generation: d.Generation.String()})
			}
			if d.Writable() {
				cols = append(cols, d.Column)
			}
		}
		if e.WriteStrategy() == persist.StrategyMutation {
			m := &persist.Mutation{Op: persist.OpInsert, Table: e.Table(), Columns: cols}
			ep.Insert = m.String()
		} else {
			ins := sql.Dialect(cfg.Dialect()).Insert(e.Table()).Columns(cols...).Values(make([]any, len(cols))...)
			if cfg.EmitComments() {
				ins.Comment("insert " + e.Name())
			}
			query, _, err := ins.Query()
			if err != nil {
				return nil, err
			}
			if ep.Insert, err = sf.Prepare(query, hc); err != nil {
				return nil, err
			}
		}
		p.Entities = append(p.Entities, ep)
	}
	return p, nil
}

// String renders the plan as text.
func (p *Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "variant %s\n", p.Variant)
	fmt.Fprintf(&b, "  dialect: %s\n", p.Dialect)
	fmt.Fprintf(&b, "  comments: %t\n", p.Comments)
	fmt.Fprintf(&b, "  interceptor: %t\n", p.Interceptor)
	fmt.Fprintf(&b, "  force batch versioned data: %t\n", p.ForceBatchVersionedData)
	for _, e := range p.Entities {
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s (table %s)\n", e.Name, e.Table)
		fmt.Fprintf(&b, "  strategy: %s\n", e.Strategy)
		fmt.Fprintf(&b, "  dynamic update: %t\n", e.DynamicUpdate)
		fmt.Fprintf(&b, "  key: %s (%s)\n", strings.Join(e.Key, ", "), e.Identity)
		fmt.Fprintf(&b, "  version: %s\n", orDash(e.Version))
		gen := make([]string, len(e.Generated))
		for i, g := range e.Generated {
			gen[i] = g.Property + "=" + g.Generation
		}
		fmt.Fprintf(&b, "  generated: %s\n", orDash(strings.Join(gen, ", ")))
		if e.Strategy == persist.StrategyMutation.String() {
			fmt.Fprintf(&b, "  mutation: %s\n", e.Insert)
		} else {
			fmt.Fprintf(&b, "  insert: %s\n", e.Insert)
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
