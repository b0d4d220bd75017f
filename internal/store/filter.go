package store

import "context"

// Matcher decides whether a trace summary, given as TraceSummary.Fields, is kept.
type Matcher func(ctx context.Context, fields map[string]any) (bool, error)

// FilterSummaries keeps the traces accepted by match, in order, stopping after
// limit matches when limit > 0. The first matcher error aborts the scan.
func FilterSummaries(ctx context.Context, traces []*TraceSummary, match Matcher, limit int) ([]*TraceSummary, error) {
	var kept []*TraceSummary
	for _, t := range traces {
		ok, err := match(ctx, t.Fields())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		kept = append(kept, t)
		if limit > 0 && len(kept) == limit {
			break
		}
	}
	return kept, nil
}
