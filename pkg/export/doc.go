// Package export backs up and restores stored scan samples.
//
// # Formats
//
// JSON backups carry a metadata header and the samples with their ids and
// tier flags. CSV exports flatten one sample per row with the columns
// id, timestamp, session, receiver, frequency, intensity and tiers.
// Both formats can be imported; CSV columns are matched by header name.
//
// Imported samples get fresh ids and no tier flags, so their sessions are
// stale until the next backfill.
//
// # HTTP API
//
// Export endpoint: GET /v1/export
//
//	curl "http://localhost:8080/v1/export?format=csv&receivers=Rcvr1_2&start=2024-03-01&end=2024-03-08" \
//	  -o lband.csv
//
// Import endpoint: POST /v1/import
//
//	curl -X POST "http://localhost:8080/v1/import" \
//	  -H "Content-Type: text/csv" \
//	  --data-binary @lband.csv
//
// # Limits
//
//   - Maximum export time range: 30 days
//   - Default export window: 24 hours before end
//   - Exports are sized with Summarize first and refused above MaxQueryRows
//   - Import batch size: 5,000 samples per write
//
// Invalid samples are skipped and reported in ImportResult.Errors instead of
// failing the whole import.
package export
