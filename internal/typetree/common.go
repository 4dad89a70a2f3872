package typetree

import (
	"strconv"
	"strings"
	"sync"
)

// commonStringOffset marks a blob string reference as an offset into the
// engine's shared string table rather than the tree's local buffer.
const commonStringOffset = 0x80000000

// commonStringBuffer is the engine's built-in table of frequent type and
// field names, stored as consecutive null-terminated strings.
var commonStringBuffer = strings.Join([]string{
	"AABB", "AnimationClip", "AnimationCurve", "AnimationState", "Array",
	"Base", "BitField", "bitset", "bool", "char", "ColorRGBA", "Component",
	"data", "deque", "double", "dynamic_array", "FastPropertyName", "first",
	"float", "Font", "GameObject", "Generic Mono", "GradientNEW", "GUID",
	"GUIStyle", "int", "list", "long long", "map", "Matrix4x4f", "MdFour",
	"MonoBehaviour", "MonoScript", "m_ByteSize", "m_Curve",
	"m_EditorClassIdentifier", "m_EditorHideFlags", "m_Enabled",
	"m_ExtensionPtr", "m_GameObject", "m_Index", "m_IsArray", "m_IsStatic",
	"m_MetaFlag", "m_Name", "m_ObjectHideFlags", "m_PrefabInternal",
	"m_PrefabParentObject", "m_Script", "m_StaticEditorFlags", "m_Type",
	"m_Version", "Object", "pair", "PPtr<Component>", "PPtr<GameObject>",
	"PPtr<Material>", "PPtr<MonoBehaviour>", "PPtr<MonoScript>",
	"PPtr<Object>", "PPtr<Prefab>", "PPtr<Sprite>", "PPtr<TextAsset>",
	"PPtr<Texture>", "PPtr<Texture2D>", "PPtr<Transform>", "Prefab",
	"Quaternionf", "Rectf", "RectInt", "RectOffset", "second", "set",
	"short", "size", "SInt16", "SInt32", "SInt64", "SInt8", "staticvector",
	"string", "TextAsset", "TextMesh", "Texture", "Texture2D", "Transform",
	"TypelessData", "UInt16", "UInt32", "UInt64", "UInt8", "unsigned int",
	"unsigned long long", "unsigned short", "vector", "Vector2f", "Vector3f",
	"Vector4f", "m_ScriptingClassIdentifier", "Gradient", "Type*",
	"int2_storage", "int3_storage", "BoundsInt", "m_CorrespondingSourceObject",
	"m_PrefabInstance", "m_PrefabAsset", "FileSize", "Hash128",
	"RenderingLayerMask",
}, "\x00") + "\x00"

// CommonStrings maps offsets in the shared string table to strings and back.
type CommonStrings struct {
	byOffset map[uint32]string
	byString map[string]uint32
}

// NewCommonStrings builds a table from strings laid out back to back, each
// followed by a null byte.
func NewCommonStrings(list []string) *CommonStrings {
	cs := &CommonStrings{
		byOffset: make(map[uint32]string, len(list)),
		byString: make(map[string]uint32, len(list)),
	}
	var off uint32
	for _, s := range list {
		cs.byOffset[off] = s
		if _, dup := cs.byString[s]; !dup {
			cs.byString[s] = off
		}
		off += uint32(len(s)) + 1
	}
	return cs
}

var (
	defaultCommonOnce sync.Once
	defaultCommon     *CommonStrings
)

// DefaultCommonStrings returns the built-in engine table.
func DefaultCommonStrings() *CommonStrings {
	defaultCommonOnce.Do(func() {
		list := strings.Split(strings.TrimSuffix(commonStringBuffer, "\x00"), "\x00")
		defaultCommon = NewCommonStrings(list)
	})
	return defaultCommon
}

// Get returns the string at offset.
func (cs *CommonStrings) Get(offset uint32) (string, bool) {
	s, ok := cs.byOffset[offset]
	return s, ok
}

// Offset returns the offset of s in the table.
func (cs *CommonStrings) Offset(s string) (uint32, bool) {
	off, ok := cs.byString[s]
	return off, ok
}

// Len returns the number of strings in the table.
func (cs *CommonStrings) Len() int { return len(cs.byOffset) }

// IsArrayType reports whether a node type names the array marker, either
// literally or as an unresolved numeric common string offset.
func IsArrayType(t string) bool {
	if t == "Array" {
		return true
	}
	if t == "" || t[0] < '0' || t[0] > '9' {
		return false
	}
	v, err := strconv.ParseUint(t, 10, 32)
	if err != nil {
		return false
	}
	s, ok := DefaultCommonStrings().Get(uint32(v))
	return ok && s == "Array"
}
