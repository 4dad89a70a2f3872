package serialized

// Serialized file format versions at which the layout changes.
const (
	FormatUnknown2                  = 2
	FormatUnknown3                  = 3
	FormatUnknown5                  = 5
	FormatUnknown6                  = 6
	FormatUnknown7                  = 7
	FormatUnknown8                  = 8
	FormatUnknown9                  = 9
	FormatUnknown10                 = 10
	FormatHasScriptTypeIndex        = 11
	FormatUnknown12                 = 12
	FormatHasTypeTreeHashes         = 13
	FormatUnknown14                 = 14
	FormatSupportsStrippedObject    = 15
	FormatRefactoredClassID         = 16
	FormatRefactorTypeData          = 17
	FormatRefactorShareableTypeTree = 18
	FormatTypeTreeNodeWithTypeFlags = 19
	FormatSupportsRefObject         = 20
	FormatStoresTypeDependencies    = 21
	FormatLargeFilesSupport         = 22
	FormatLatest                    = FormatLargeFilesSupport
)

const (
	classMonoBehaviour = 114
	objectAlignment    = 8
	dataAlignment      = 16
)

func usesBlobTypeTree(version uint32) bool {
	return version >= FormatUnknown12 || version == FormatUnknown10
}
