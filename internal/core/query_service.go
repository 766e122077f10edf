package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nycquery_service/internal/domain/model"
)

// State is a step of the per-request pipeline.
type State string

const (
	StateModeSelection State = "mode_selection"
	StatePlanCompiled  State = "plan_compiled"
	StateDataFetched   State = "data_fetched"
	StateAggregated    State = "aggregated"
	StateExplained     State = "explained"
	StateDone          State = "done"
	StateErrored       State = "errored"
)

const (
	placeholderEmptyExplanation = "[No explanation generated]"
	placeholderExplanationError = "[explanation unavailable: %v]"
)

// QueryService answers a natural-language query: it classifies the query,
// compiles a plan, fetches the data and reduces it into an envelope.
// It holds no per-request state and is safe for concurrent use.
type QueryService struct {
	classifier model.ModeClassifier
	planner    model.PlanGenerator
	explainer  model.Explainer
	store      model.DataStore

	validator *PlanValidator
	builder   *QueryBuilder
	opts      *options
}

func NewQueryService(
	classifier model.ModeClassifier,
	planner model.PlanGenerator,
	explainer model.Explainer,
	store model.DataStore,
	opts ...Option,
) *QueryService {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &QueryService{
		classifier: classifier,
		planner:    planner,
		explainer:  explainer,
		store:      store,
		validator:  NewPlanValidator(o.cat, o.log),
		builder:    NewQueryBuilder(o.cat),
		opts:       o,
	}
}

// pipelineRun tracks one request through the state machine.
type pipelineRun struct {
	state     State
	mode      *model.Mode
	usage     *model.Usage
	modeUsage *model.Usage
	log       *zap.Logger
}

func (r *pipelineRun) advance(s State) {
	r.log.Debug("pipeline transition", zap.String("from", string(r.state)), zap.String("to", string(s)))
	r.state = s
}

func (r *pipelineRun) fail(err error) *model.Envelope {
	r.advance(StateErrored)
	r.log.Warn("pipeline failed", zap.String("error_code", string(model.CodeOf(err))), zap.Error(err))
	return model.ErrorEnvelope(r.mode, err, r.usage, r.modeUsage)
}

// Run executes the pipeline for query. It never returns an error: every
// failure, including a panic, is reported inside the envelope.
func (s *QueryService) Run(ctx context.Context, query string, history []model.Turn) (env *model.Envelope) {
	run := &pipelineRun{state: StateModeSelection, log: loggerFrom(ctx, s.opts.log)}

	defer func() {
		if p := recover(); p != nil {
			run.log.Error("pipeline panicked", zap.Any("panic", p), zap.Stack("stack"))
			env = run.fail(model.Errorf(model.ErrInternal, "internal server error: %v", p))
		}
		modeLabel := "unknown"
		if run.mode != nil {
			modeLabel = string(*run.mode)
		}
		code := ""
		if env != nil && env.Error != nil {
			code = string(*env.Error)
		}
		pipelineRequests.WithLabelValues(modeLabel, code).Inc()
	}()

	mode, err := s.classify(ctx, run, query)
	if err != nil {
		return run.fail(err)
	}
	run.mode = &mode
	run.log = run.log.With(zap.String("mode", string(mode)))

	plan, diags, err := s.compile(ctx, run, mode, query, history)
	if err != nil {
		return run.fail(err)
	}
	run.advance(StatePlanCompiled)

	switch p := plan.(type) {
	case model.AnalyzePlan:
		env, err = s.runAnalyze(ctx, run, query, p)
	case model.SearchPlan:
		env, err = s.runSearch(ctx, run, query, p)
	case model.ComparePlan:
		env, err = s.runCompare(ctx, run, query, p)
	default:
		err = model.Errorf(model.ErrInternal, "mode '%s' not implemented", mode)
	}
	if err != nil {
		return run.fail(err)
	}

	env.Mode = run.mode
	env.Usage = run.usage
	env.ModeUsage = run.modeUsage
	env.Diagnostics = diags
	run.advance(StateDone)
	return env
}

func (s *QueryService) classify(ctx context.Context, run *pipelineRun, query string) (model.Mode, error) {
	defer observeStage("classify", time.Now())
	cctx, cancel := withTimeout(ctx, s.opts.llmTimeout)
	defer cancel()

	decision, err := s.classifier.ClassifyMode(cctx, query)
	run.modeUsage = decision.Usage
	if err != nil {
		return "", model.WrapError(model.ErrModeClassification, "classify", err)
	}
	mode, ok := model.ParseMode(decision.Label)
	if !ok {
		return "", model.Errorf(model.ErrInternal, "mode '%s' not implemented", decision.Label)
	}
	return mode, nil
}

func (s *QueryService) compile(ctx context.Context, run *pipelineRun, mode model.Mode, query string, history []model.Turn) (model.Plan, []model.Diagnostic, error) {
	start := time.Now()
	pctx, cancel := withTimeout(ctx, s.opts.llmTimeout)
	raw, err := s.planner.GeneratePlan(pctx, mode, query, history)
	cancel()
	observeStage("plan", start)

	run.usage = raw.Usage
	if err != nil {
		if model.CodeOf(err).Parent() == model.ErrPlanGeneration {
			return nil, nil, err
		}
		return nil, nil, model.WrapError(model.ErrPlanGeneration, "plan", err)
	}
	return s.validator.Validate(mode, raw.Text)
}

func (s *QueryService) fetch(ctx context.Context, stage string, req model.QueryRequest) (*model.RowSet, error) {
	defer observeStage(stage, time.Now())
	fctx, cancel := withTimeout(ctx, s.opts.storeTimeout)
	defer cancel()

	rs, err := s.store.Fetch(fctx, req)
	if err != nil {
		if model.CodeOf(err).Parent() == model.ErrStore {
			return nil, err
		}
		return nil, model.WrapError(model.ErrStore, stage, err)
	}
	if rs == nil {
		rs = &model.RowSet{Table: req.Table, Columns: req.Columns, GroupColumn: req.GroupColumn}
	}
	return rs, nil
}

// mapRows keeps the rows that go on the map: at most the configured number
// of features. Summaries are computed before the cut.
func (s *QueryService) mapRows(log *zap.Logger, rs *model.RowSet) *model.RowSet {
	if n := s.opts.featureLimit; n > 0 && rs.Len() > n {
		log.Debug("map layer truncated", zap.Int("rows", rs.Len()), zap.Int("features", n))
	}
	return rs.Head(s.opts.featureLimit)
}

// explain never fails the request: errors and panics become a placeholder
// string. It may run off the request goroutine, so it recovers on its own.
// It returns nil when explanations are disabled.
func (s *QueryService) explain(ctx context.Context, log *zap.Logger, req model.ExplainRequest) (out *string) {
	if !s.opts.explain || s.explainer == nil {
		return nil
	}
	defer observeStage("explain", time.Now())
	defer func() {
		if p := recover(); p != nil {
			log.Error("explainer panicked", zap.String("error_code", string(model.ErrExplanation)),
				zap.Any("panic", p), zap.Stack("stack"))
			text := fmt.Sprintf(placeholderExplanationError, p)
			out = &text
		}
	}()
	ectx, cancel := withTimeout(ctx, s.opts.llmTimeout)
	defer cancel()

	text, err := s.explainer.Explain(ectx, req)
	if err != nil {
		log.Warn("explanation failed", zap.String("error_code", string(model.ErrExplanation)), zap.Error(err))
		text = fmt.Sprintf(placeholderExplanationError, err)
	} else if text = strings.TrimSpace(text); text == "" {
		text = placeholderEmptyExplanation
	}
	return &text
}

func (s *QueryService) runAnalyze(ctx context.Context, run *pipelineRun, query string, p model.AnalyzePlan) (*model.Envelope, error) {
	req, err := s.builder.BuildAnalyze(p)
	if err != nil {
		return nil, err
	}
	rs, err := s.fetch(ctx, "fetch", req)
	if err != nil {
		return nil, err
	}
	run.advance(StateDataFetched)

	summary := Summarize(rs, p.Column, p.Dtype)
	run.advance(StateAggregated)

	env := &model.Envelope{
		GeoJSON: s.mapRows(run.log, rs).FeatureCollection(),
		Column:  p.Column,
		Dtype:   p.Dtype,
		Scale:   &p.Scale,
		Region:  p.Region,
		Table:   &p.Table,
		Filters: nonNilFilters(p.Filters),
		Summary: summary,
	}
	if text := s.explain(ctx, run.log, model.ExplainRequest{
		Query: query, Mode: model.ModeAnalyze, Column: p.Column, Region: p.Region, Summary: summary,
	}); text != nil {
		env.Explanation = *text
		run.advance(StateExplained)
	}
	return env, nil
}

// runSearch ranks every region on the block table, then fetches the
// winner's rows. The second fetch depends on the first.
func (s *QueryService) runSearch(ctx context.Context, run *pipelineRun, query string, p model.SearchPlan) (*model.Envelope, error) {
	scanReq, err := s.builder.BuildRankingScan(p)
	if err != nil {
		return nil, err
	}
	scan, err := s.fetch(ctx, "rank_fetch", scanReq)
	if err != nil {
		return nil, err
	}
	if scan.Len() == 0 {
		return nil, model.Errorf(model.ErrNoData, "no rows in %s for %s", scanReq.Table, p.ColumnBlock)
	}

	groups := Rank(scan, scanReq.GroupColumn, p.ColumnBlock, p.Analysis, p.Order)
	winner, ok := Winner(groups)
	if !ok {
		return nil, model.Errorf(model.ErrNoGroupedData, "no region has a value for %s", p.ColumnBlock)
	}
	run.log.Debug("search winner", zap.Any("region", winner.Key), zap.Float64("value", *winner.Value))

	finalReq, err := s.builder.BuildWinnerFetch(p, winner.Key)
	if err != nil {
		return nil, err
	}
	final, err := s.fetch(ctx, "winner_fetch", finalReq)
	if err != nil {
		return nil, err
	}
	if final.Len() == 0 {
		return nil, model.Errorf(model.ErrNoFinalData, "no rows in %s for region %v", finalReq.Table, winner.Key)
	}
	run.advance(StateDataFetched)

	column, dtype := p.FollowUpColumn(), p.FollowUpDtype()
	summary := Summarize(final, column, dtype)
	run.advance(StateAggregated)

	table := finalReq.Table
	region := regionFromKey(p.Scale, winner.Key)
	env := &model.Envelope{
		GeoJSON: s.mapRows(run.log, final).FeatureCollection(),
		Column:  model.SearchColumns{Block: p.ColumnBlock, Region: p.ColumnRegion},
		Dtype:   model.SearchDtypes{Block: p.DtypeBlock, Region: p.DtypeRegion},
		Scale:   &p.Scale,
		Region:  winner.Key,
		Table:   &table,
		Filters: []model.Filter{},
		Summary: summary,
		Ranking: groups,
	}
	if text := s.explain(ctx, run.log, model.ExplainRequest{
		Query: query, Mode: model.ModeSearch, Column: column, Region: region, Summary: summary,
	}); text != nil {
		env.Explanation = *text
		run.advance(StateExplained)
	}
	return env, nil
}

// runCompare fetches both regions in one request and summarizes each half.
// The feature cap applies to each region's layer separately, so a large
// region cannot crowd the other out of the map. The two explanations are
// independent and run concurrently.
func (s *QueryService) runCompare(ctx context.Context, run *pipelineRun, query string, p model.ComparePlan) (*model.Envelope, error) {
	req, err := s.builder.BuildCompare(p)
	if err != nil {
		return nil, err
	}
	rs, err := s.fetch(ctx, "fetch", req)
	if err != nil {
		return nil, err
	}
	run.advance(StateDataFetched)

	group := p.Scale.GroupColumn()
	rs1 := rs.Filter(func(r model.Row) bool { return inRegion(r.Values[group], p.Region1) })
	rs2 := rs.Filter(func(r model.Row) bool { return inRegion(r.Values[group], p.Region2) })
	summaries := model.Pair[*model.Summary]{
		Region1: Summarize(rs1, p.Column, p.Dtype),
		Region2: Summarize(rs2, p.Column, p.Dtype),
	}
	run.advance(StateAggregated)

	map1, map2 := s.mapRows(run.log, rs1), s.mapRows(run.log, rs2)
	env := &model.Envelope{
		GeoJSON: []model.FeatureCollection{
			map1.Concat(map2).FeatureCollection(),
			map1.FeatureCollection(),
			map2.FeatureCollection(),
		},
		Column:  p.Column,
		Dtype:   p.Dtype,
		Scale:   &p.Scale,
		Region:  model.Pair[model.Region]{Region1: p.Region1, Region2: p.Region2},
		Table:   &p.Table,
		Filters: nonNilFilters(p.Filters),
		Summary: summaries,
	}

	if s.opts.explain && s.explainer != nil {
		var e1, e2 *string
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			e1 = s.explain(gctx, run.log, model.ExplainRequest{
				Query: query, Mode: model.ModeCompare, Column: p.Column, Region: p.Region1, Summary: summaries.Region1,
			})
			return nil
		})
		g.Go(func() error {
			e2 = s.explain(gctx, run.log, model.ExplainRequest{
				Query: query, Mode: model.ModeCompare, Column: p.Column, Region: p.Region2, Summary: summaries.Region2,
			})
			return nil
		})
		_ = g.Wait()
		env.Explanation = model.Pair[string]{Region1: *e1, Region2: *e2}
		run.advance(StateExplained)
	}
	return env, nil
}

func inRegion(v any, r model.Region) bool {
	switch r.Scale {
	case model.ScaleBorough:
		f, ok := toFloat(v)
		return ok && int(f) == r.Code
	case model.ScaleLargeN:
		k, ok := categoryKey(normalizeKey(v))
		return ok && strings.EqualFold(k, r.Name)
	}
	return false
}

func regionFromKey(scale model.Scale, key any) model.Region {
	r := model.Region{Scale: scale}
	switch scale {
	case model.ScaleBorough:
		if f, ok := toFloat(key); ok {
			r.Code = int(f)
		}
	case model.ScaleLargeN:
		r.Name, _ = categoryKey(normalizeKey(key))
	}
	return r
}

func nonNilFilters(f []model.Filter) []model.Filter {
	if f == nil {
		return []model.Filter{}
	}
	return f
}

func observeStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
