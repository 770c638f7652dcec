// Package catalog locates an app's archive on the catalog site.
//
// Resolution runs in three steps, each short-circuiting when its input is
// missing:
//   - GuessCandidates derives app-page URLs from the package identifier using
//     the site's slug conventions.
//   - Resolver fetches each candidate and confirms the first one whose body
//     mentions the identifier verbatim.
//   - Extractor fetches the confirmed page's /download sub-page and scans it
//     with an ordered pattern list. XAPK rules sit ahead of APK rules so games
//     shipped with OBB data are never classified as plain APKs.
//
// Markup changes upstream degrade Extractor to "no match"; fix them by editing
// DefaultPatterns rather than the matching loop.
package catalog
