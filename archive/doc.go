// Package archive decodes NSKeyedArchiver property lists, the format of
// compiled nib files, into objects of the guest object model.
//
// Parse reads the archive's object table without touching the runtime. The
// NSKeyedUnarchiver class installed by Framework walks that table on
// demand: each decodeObjectForKey: resolves a UID, instantiates the
// archived class and sends it initWithCoder: with the unarchiver as coder.
// Every UID decodes to one object however often it is referenced, so
// shared and cyclic references survive the round trip.
//
//	$top      {"root": UID(1)}
//	$objects  ["$null", {"$class": UID(2), ...}, {"$classname": "UIView", ...}]
//
// Strings, numbers, data, arrays and dictionaries map onto the Foundation
// classes; any other class must be registered under its archived name or
// decoding fails with an unresolved_class error.
package archive
