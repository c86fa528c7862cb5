// Package preflight provides readiness checks for the analysis backend and
// the local paths crease depends on.
//
// These checks run in two contexts:
//   - `crease doctor` runs RunAll and renders every result.
//   - `crease upload` runs CheckStateDir and CheckSession before handing a
//     video to the coordinator, so a doomed upload fails fast.
package preflight
