// Package analysis talks to the cricket analysis backend.
//
// Client wraps the HTTP JSON and multipart endpoints (health, auth, upload,
// results, history, training plans, comparisons) behind an HTTPDoer so tests
// can substitute httptest servers. Every failure is returned as a
// *RequestError whose Kind separates retryable transport failures (timeouts,
// aborted requests, dropped connections) from definitive rejections; callers
// classify with services.KindOf and services.IsRetryable instead of matching
// on error text.
//
// The package also owns the shared domain types (UploadForm, Result,
// HistoryItem, TrainingPlan) and helpers such as SecureFilename, which derives
// the server-side filename used to poll for a result.
package analysis
