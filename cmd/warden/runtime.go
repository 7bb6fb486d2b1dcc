package main

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/conversation"
	"github.com/wardenhq/warden/internal/forge"
	"github.com/wardenhq/warden/internal/invoker"
	"github.com/wardenhq/warden/internal/model"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/project"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tooling"
	"github.com/wardenhq/warden/internal/trust"
)

// runtimeDeps is the wired collaborator set behind serve and invoke:
// everything needed to take a classified request through a session.
type runtimeDeps struct {
	invoker    *invoker.Invoker
	classifier *trust.Classifier
	projects   *project.Loader
	pool       *tooling.Pool
}

func (d *runtimeDeps) Close() {
	d.pool.Close()
}

func wireRuntime(ctx context.Context, loaded *config.Config, st *store.Store) (*runtimeDeps, error) {
	cacheTTL, err := config.DurationOrDefault(loaded.Trust.CacheTTL, config.DefaultTrustCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("parse trust.cache_ttl: %w", err)
	}
	approvalTTL, err := config.DurationOrDefault(loaded.Sweeper.ApprovalTTL, config.DefaultApprovalTTL)
	if err != nil {
		return nil, fmt.Errorf("parse sweeper.approval_ttl: %w", err)
	}

	router, err := model.NewRouter(loaded.Model, loaded.Providers)
	if err != nil {
		return nil, fmt.Errorf("build model router: %w", err)
	}
	gh, err := forge.NewGitHubClient(loaded.Forge)
	if err != nil {
		return nil, fmt.Errorf("build forge client: %w", err)
	}

	auditor := policy.NewAuditor(store.AuditPath(st.DataDir()), loaded.Policy.Redact)
	engine := policy.NewEngine(st, auditor, router, loaded.Policy, approvalTTL)

	pool := tooling.NewPool(ctx, loaded.Tooling.Servers)

	inv := invoker.New(invoker.Deps{
		Store:     st,
		Engine:    engine,
		Completer: router,
		Embedder:  router,
		Threads:   conversation.NewManager(st),
		Pool:      pool,
		Forge:     gh,
	}, loaded.Invoker)

	return &runtimeDeps{
		invoker:    inv,
		classifier: trust.NewClassifier(gh, cacheTTL),
		projects:   project.NewLoader(loaded.ProjectsDir),
		pool:       pool,
	}, nil
}
