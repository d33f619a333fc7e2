// Package domain defines the entities of the curation pipeline and the closed
// status sets each of them moves through.
//
// Entities:
//   - Source: an external content origin with rolling scrape metrics
//   - Article: a scraped item awaiting intake, promotion or discard
//   - QueueJob: a unit of work promoting one accepted article into a story
//   - Story: a multi-slide narrative derived from one article
//   - Slide: one unit of story content, numbered contiguously from 1
//   - AssetExport: the asynchronously generated carousel for a story
//
// Statuses are typed string enums. Parse* functions reject unknown values so
// that a status read from storage or a request is always one of the declared
// constants.
//
// Every failure crossing a package boundary is an *Error carrying a Code and
// a short Reason. The reason is shown to operators verbatim.
package domain
