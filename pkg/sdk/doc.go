/*
Package sdk is the Go client for an rfiscope server.

It pushes scan samples to POST /v1/ingest in batches and wraps the admin
endpoints used by rfictl.

# Pushing scans

	client, err := sdk.New(sdk.ClientConfig{
	    Server: "http://localhost:8080",
	})
	if err != nil {
	    log.Fatal(err)
	}

	client.Start(ctx)
	defer client.Stop()

	err = client.RecordScan("TGBT24A_001", "Rcvr1_2", scanTime, frequencies, intensities)

Samples are buffered until one of:
 1. FlushEvery elapses (default 5 seconds)
 2. MaxBatchSize samples are buffered (default and upper bound: the server's per-request limit)
 3. Flush or Stop is called

A rejected batch is dropped and logged; Stats reports sent and dropped counts.
Errors from the server are *transport.StatusError values carrying the status
code and, for validation failures, the offending field.

# Admin calls

	sessions, err := client.Sessions(ctx, sdk.SessionQuery{StaleOnly: true})

	result, err := client.Backfill(ctx, sdk.BackfillRequest{StaleOnly: true, Workers: 4})

	f, _ := os.Open("backup.json")
	imported, err := client.Import(ctx, f, "application/json")

Backfill blocks until the server finishes; give ctx a generous deadline.
*/
package sdk
