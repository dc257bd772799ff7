package query

import "retrace/internal/changelog"

// foldState replays entries (ascending order) into the entity's field state.
//
// The insert entry seeds the state; each update overwrites touched fields with
// their new values; relationship-field values update only that field's
// reference set. A mid-stream delete resets the state: the identity was
// reused and a later insert re-seeds it. Fields excluded by policy never reach
// the log, so reconstructed states simply omit them.
func foldState(entries []changelog.Entry) map[string]any {
	state := make(map[string]any)
	for _, e := range entries {
		switch e.Action {
		case changelog.ActionInsert:
			for field, v := range e.Diff {
				state[field] = v
			}
		case changelog.ActionUpdate:
			for field, v := range e.Diff {
				if added, removed, ok := changelog.RefSets(v); ok {
					state[field] = applyRefs(state[field], added, removed)
					continue
				}
				if _, newVal, ok := changelog.UpdatePair(v); ok {
					state[field] = newVal
				}
			}
		case changelog.ActionDelete:
			state = make(map[string]any)
		}
	}
	return state
}

// applyRefs folds one relationship change into the field's current token set,
// preserving first-seen order.
func applyRefs(current any, added, removed []string) []string {
	dropped := make(map[string]struct{}, len(removed))
	for _, token := range removed {
		dropped[token] = struct{}{}
	}

	var next []string
	seen := make(map[string]struct{})
	appendToken := func(token string) {
		if _, gone := dropped[token]; gone {
			return
		}
		if _, dup := seen[token]; dup {
			return
		}
		seen[token] = struct{}{}
		next = append(next, token)
	}

	for _, token := range currentTokens(current) {
		appendToken(token)
	}
	for _, token := range added {
		appendToken(token)
	}
	return next
}

func currentTokens(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		tokens := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				tokens = append(tokens, s)
			}
		}
		return tokens
	default:
		return nil
	}
}
