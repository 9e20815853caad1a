// Package guard gates navigation on an authentication predicate without
// letting guards re-trigger each other.
//
// A [Guard] evaluates one navigation attempt at a time. Attempts that
// arrive while a decision is running pass straight through, and once the
// number of such re-entrant attempts reaches a ceiling the guard resets
// itself and lets the navigation proceed with a warning. Independently, a
// redirect throttle stops the guard from issuing a second forced redirect
// within a short window, so the navigation guard and the API's
// unauthorized handler never fight over the current location.
//
// [Router] applies decisions to a [Navigator], and [TokenAuthenticator]
// derives the predicate from a [TokenStore].
package guard
