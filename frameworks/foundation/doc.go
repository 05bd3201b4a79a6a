// Package foundation is the host implementation of the Foundation
// framework and the Objective-C runtime entry points guest code links
// against.
//
// Installing a Foundation registers the root class NSObject, the NSString
// cluster, the collection classes the nib loader needs and
// NSAutoreleasePool, and exports the C functions objc_msgSend,
// objc_msgSendSuper, objc_getClass, sel_registerName, class_getName and
// NSLog along with the exception-name constants.
//
// Host code builds and reads Foundation objects through the helpers on
// *Foundation:
//
//	s, _ := fw.String("hello")       // owned, release when done
//	k, _ := fw.StaticString("Key")   // never deallocated
//	text, _ := fw.GoString(s)
//
// # Message Dispatch
//
// objc_msgSend resolves the selector against the receiver's class. A guest
// implementation is entered by a tail call, so it sees the caller's
// registers and stack untouched and returns straight to the caller. A host
// implementation has its arguments decoded from the method's type encoding
// and its result written back in the matching registers. Messages to nil
// return zero in r0 and r1.
//
// Methods returning a struct larger than a word are sent through the
// _stret variants, which take the result buffer ahead of self. A host
// implementation finds it in Msg.Ret.
package foundation
