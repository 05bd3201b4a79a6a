package foundation

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/hle-runtime/bridge"
	"github.com/wippyai/hle-runtime/linker"
)

// exceptionNames are exported as NSString constants named "_" + name whose
// value is the name itself.
var exceptionNames = []string{
	"NSCharacterConversionException",
	"NSDecimalNumberDivideByZeroException",
	"NSDecimalNumberExactnessException",
	"NSDecimalNumberOverflowException",
	"NSDecimalNumberUnderflowException",
	"NSDestinationInvalidException",
	"NSFileHandleOperationException",
	"NSGenericException",
	"NSInternalInconsistencyException",
	"NSInvalidArchiveOperationException",
	"NSInvalidArgumentException",
	"NSInvalidReceivePortException",
	"NSInvalidSendPortException",
	"NSInvalidUnarchiveOperationException",
	"NSInvocationOperationCancelledException",
	"NSInvocationOperationVoidResultException",
	"NSMallocException",
	"NSObjectInaccessibleException",
	"NSObjectNotAvailableException",
	"NSOldStyleException",
	"NSParseErrorException",
	"NSPortReceiveException",
	"NSPortSendException",
	"NSPortTimeoutException",
	"NSRangeException",
	"NSUndefinedKeyException",
	"NSInconsistentArchiveException",
	"NSPPDIncludeNotFoundException",
	"NSPPDIncludeStackOverflowException",
	"NSPPDIncludeStackUnderflowException",
	"NSPPDParseException",
	"NSRTFPropertyStackOverflowException",
	"NSTIFFException",
	"NSAbortModalException",
	"NSAbortPrintingException",
	"NSAccessibilityException",
	"NSAppKitIgnoredException",
	"NSAppKitVirtualMemoryException",
	"NSBadBitmapParametersException",
	"NSBadComparisonException",
	"NSBadRTFColorTableException",
	"NSBadRTFDirectiveException",
	"NSBadRTFFontTableException",
	"NSBadRTFStyleSheetException",
	"NSBrowserIllegalDelegateException",
	"NSColorListIOException",
	"NSColorListNotEditableException",
	"NSDraggingException",
	"NSFontUnavailableException",
	"NSIllegalSelectorException",
	"NSImageCacheException",
	"NSNibLoadingException",
	"NSPasteboardCommunicationException",
	"NSPrintOperationExistsException",
	"NSPrintPackageException",
	"NSPrintingCommunicationException",
	"NSTextLineTooLongException",
	"NSTextNoSelectionException",
	"NSTextReadException",
	"NSTextWriteException",
	"NSTypedStreamVersionException",
	"NSWindowServerCommunicationException",
	"NSWordTablesReadException",
	"NSWordTablesWriteException",
	"UIViewControllerHierarchyInconsistencyException",
	"UIApplicationInvalidInterfaceOrientationException",
}

func (f *Foundation) exportExceptions(fw *linker.Framework) {
	for _, name := range exceptionNames {
		fw.Const("_"+name, f.constString(name))
	}
	fw.Func("_NSSetUncaughtExceptionHandler", wordToVoid, func(_ context.Context, call *bridge.Call) error {
		// The handler only logs before termination, so it is safe to drop.
		Logger().Info("ignoring uncaught exception handler", zap.Stringer("handler", call.Addr(0)))
		return nil
	})
}

// constString produces a static NSString for a constant export.
func (f *Foundation) constString(s string) linker.Producer {
	return func(context.Context) (uint32, error) {
		id, err := f.StaticString(s)
		return uint32(id), err
	}
}
