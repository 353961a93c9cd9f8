package retrieval

import (
	"regexp"

	"omnimem/internal/types"
)

// Route classification steers composer emphasis: procedural queries favor
// task and checkpoint memories, episodic favor session history, semantic
// favor long-layer decisions.
var (
	proceduralRe = regexp.MustCompile(`(?i)\b(how to|how do|steps?|command|install|setup|configure|run|usage|example)\b`)
	episodicRe   = regexp.MustCompile(`(?i)\b(yesterday|last (week|time|session)|earlier|before|previous|when did|what happened|recall)\b`)
	semanticRe   = regexp.MustCompile(`(?i)\b(what is|what are|why|meaning|definition|decision|design|architecture|explain|difference)\b`)
)

// ClassifyRoute tags query intent by wording. First match wins in
// procedural, episodic, semantic order; anything else is general.
func ClassifyRoute(query string) types.Route {
	switch {
	case proceduralRe.MatchString(query):
		return types.RouteProcedural
	case episodicRe.MatchString(query):
		return types.RouteEpisodic
	case semanticRe.MatchString(query):
		return types.RouteSemantic
	default:
		return types.RouteGeneral
	}
}
