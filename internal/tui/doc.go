// Package tui provides the interactive scan dashboard.
//
// The dashboard is a Bubble Tea program fed by the engine: every
// classification arrives as a ResultMsg and the end of the run as a
// FinishedMsg. While the run is in progress it shows a spinner, a progress
// bar and live per-class counters; the result list below can be filtered
// by class at any time.
//
// # Keys
//
//	a        show all results
//	t f d    only Patched, Missing or Claimed
//	n _      only NotAffected or Inconclusive
//	↑/↓ j/k  scroll
//	q        quit (cancels a running scan)
//
// # Usage
//
//	report, err := tui.Run(ctx, tui.RunConfig{Title: "scan ./fw", Total: n},
//	    func(ctx context.Context, onResult func(engine.Result)) (*engine.Report, error) {
//	        eng := engine.New(root, props, cat, tools, engine.Options{OnResult: onResult})
//	        return eng.RunAll(ctx)
//	    })
//
// Views use the layout helpers in styles.go: every screen is wrapped by
// RenderApplicationContainer, which draws the header with the application
// name and version and a footer with the key help.
package tui
