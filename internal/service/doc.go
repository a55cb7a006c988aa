// Package service exposes the pipeline over HTTP and keeps the deferred
// download area tidy.
//
// Data flow of one upload:
//
//	POST /api/tools/{operation}
//	    | save multipart files under <workspace>/work/<id>/uploads
//	    | lifecycle.Pipeline.Run
//	    | Job.Detach + Registry.Put         (file producing operations)
//	    v
//	Outcome JSON with downloadUrl /api/tools/download/<id>
//
//	GET /api/tools/download/{id}
//	    | Registry.Claim                    (one claimant wins)
//	    | stream, then remove the file
//
// The Sweeper runs on a gocron schedule and removes artifacts whose
// retention window has passed without a download.
//
// Invariants:
//   - An artifact is claimed at most once, either by a download or by the
//     sweeper.
//   - A download that fails midway puts the artifact back until it expires.
//   - Uploads of a request that never reaches the pipeline are removed by
//     the handler.
package service
