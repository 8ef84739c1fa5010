// Package contingency answers "what happens if this person is gone?".
//
// AnalyzeN1 removes one person at a time and classifies the absence as
// critical, high-impact or low-impact using impact.Grid.Failures, the same
// failure definition the Monte Carlo simulator applies per trial. FatalPairs
// restricts the N-2 search to the critical and high-impact set, which keeps
// the quadratic search tractable on large rosters.
package contingency
