// Package domain models Miami-Dade County parcel records and the pure
// logic for working with them.
//
// # Folio numbers
//
// Every parcel in the county is keyed by a 13-digit "folio" number. The
// Property Appraiser displays it hyphenated:
//
//	XX-XXXX-XXX-XXXX  →  e.g. "01-3125-046-0340"
//	 2    4    3    4  digit groups
//
// County services are inconsistent about which form they store: the
// Emaps MapServer keeps hyphenated strings, while the hosted PaGISView
// FeatureServer has been observed with both hyphenated and bare-digit
// values. Normalization therefore keeps both forms and lookups try each.
//
// Inputs that do not reduce to exactly 13 digits are preserved as raw
// text rather than rejected; they can still be shown to the user and
// matched via substring queries, just never via the canonical forms.
//
// # Geometry
//
// Municipal boundaries arrive as Esri polygon JSON: one or more rings,
// each an ordered [longitude, latitude] vertex list with the first
// vertex repeated at the end. Only the first ring of each source
// geometry is retained (assumed exterior); multi-part municipalities
// lose their islands, which is acceptable because the geometry is only
// used as a spatial filter, never rendered as authoritative.
//
// Large rings are thinned with Douglas–Peucker before being sent in a
// query so the request body stays under service payload limits. The
// tolerance is given in meters and converted with a flat 111,320 m per
// degree approximation, good enough at Miami's latitude for a filter
// polygon.
//
// # Sale dates
//
// The sales layer has shipped the sale date under several field names
// and two encodings over the years: epoch milliseconds (standard Esri
// date fields) and preformatted text. Records whose date cannot be
// parsed are dropped from time-windowed results rather than defaulted,
// since a fabricated date would silently corrupt the recency filter.
package domain
