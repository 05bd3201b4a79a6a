// Package uikit is the host implementation of the parts of UIKit an
// application needs to load its nib files: UIView, UIWindow and UIControl
// state, UINib, and the undocumented classes compiled nibs are made of.
//
// A compiled nib is an NSKeyedArchiver plist in the application bundle.
// UINib instantiateWithOwner:options: opens it with the keyed unarchiver,
// with the UINib as the coder's delegate, and then:
//
//  1. decodes UINibObjectsKey, instantiating every archived object;
//  2. sends connect to each record in UINibConnectionsKey, which sets
//     outlets through setValue:forKey: or registers control actions;
//  3. unhides the windows in UINibVisibleWindowsKey;
//  4. returns UINibTopLevelObjectsKey, autoreleased.
//
// The File's Owner appears in the archive as a UIProxyObject and decodes
// to the owner passed to instantiateWithOwner:options:. UIClassSwapper
// entries decode to an instance of the class they name.
//
// A nib missing from the bundle is a missing_resource error, which
// callers may recover from.
package uikit
