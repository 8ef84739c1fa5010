// Package engine chains the analysis stages into one run per schedule
// window and stamps the resulting records.
package engine
