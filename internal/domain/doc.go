// Package domain contains the core concepts of the html2image service: render
// requests, delivery modes, image artifacts, results and the error taxonomy.
// Keep this package free of transport (HTTP) and infrastructure (Chrome/S3/Redis) concerns.
package domain
