/*
Package aep is a typed client for the Adobe Experience Platform REST APIs.

A Client is bound to one set of credentials (Config). It acquires an access token either
from the pre-generated token of the configuration or through an IMS client_credentials
exchange, composes the platform headers and routes requests to the Catalog, Flow Service
and Segmentation endpoints:

	client, err := aep.New(cfg, aep.WithTokenCache(cache))
	if err != nil {
		return err
	}
	datasets, err := client.Datasets(ctx, 20)

Generated tokens are kept in a tokencache.Cache for at most 23 hours. The helpers in
reshape.go turn raw platform responses into the flat rows shown by the dashboard.
*/
package aep
