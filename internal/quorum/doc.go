// Package quorum tracks pending broadcasts until every expected peer has
// acknowledged them. A broadcast is keyed by (collection, external id);
// acknowledgments for any other key are ignored. Waiting is a ticker poll
// so a caller can bound it with a context.
package quorum
