// Package loader resolves extension files to public CDN URLs and fetches
// them over HTTP. Background code and plain files are served by jsDelivr;
// visual components come from hosts that serve HTML with its real content
// type (raw.githack for GitHub, unpkg for npm).
package loader
