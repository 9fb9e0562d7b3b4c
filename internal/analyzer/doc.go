// Package analyzer decodes finished capture files and checks the statistical
// shape of a collection: hotspot concentration, module attribution and
// uncore counter stability.
package analyzer
