package animation

import (
	"sort"
	"strings"
)

// sceneBases are the library scene classes a generated scene may extend.
var sceneBases = set(
	"Scene", "MovingCameraScene", "ThreeDScene", "ZoomedScene",
)

// constructors are the library classes generated code may instantiate:
// shapes, text, arrows, groupings, equation rendering and the timed
// reveal/transform animations.
var constructors = set(
	// groupings
	"Mobject", "VMobject", "Group", "VGroup", "VDict",
	// shapes
	"Dot", "Dot3D", "SmallDot", "LabeledDot", "Circle", "Ellipse", "Annulus", "Arc",
	"ArcBetweenPoints", "Sector", "AnnularSector", "Square", "Rectangle",
	"RoundedRectangle", "Triangle", "Polygon", "RegularPolygon", "Star", "Polygram",
	"Line", "DashedLine", "TangentLine", "Elbow", "Angle", "RightAngle", "Cross",
	"Sphere", "Cube", "Prism", "Cone", "Cylinder", "Torus", "Line3D", "Surface",
	"DashedVMobject", "TracedPath", "CubicBezier",
	// arrows and annotations
	"Arrow", "DoubleArrow", "Vector", "CurvedArrow", "CurvedDoubleArrow", "Arrow3D",
	"Brace", "BraceBetweenPoints", "BraceLabel", "BraceText", "SurroundingRectangle",
	"BackgroundRectangle", "Underline", "LabeledLine", "LabeledArrow",
	// text and equations
	"Text", "MarkupText", "Paragraph", "Tex", "MathTex", "SingleStringMathTex",
	"Title", "BulletedList", "DecimalNumber", "Integer", "Variable",
	"Table", "MathTable", "IntegerTable", "DecimalTable",
	"Matrix", "IntegerMatrix", "DecimalMatrix",
	// coordinate systems and plots
	"Axes", "ThreeDAxes", "NumberLine", "UnitInterval", "NumberPlane", "ComplexPlane",
	"PolarPlane", "BarChart", "FunctionGraph", "ParametricFunction", "ImplicitFunction",
	"Graph", "DiGraph", "VectorField", "ArrowVectorField", "StreamLines",
	// trackers and colors
	"ValueTracker", "ComplexValueTracker", "ManimColor",
	// reveal, transform and emphasis animations
	"Create", "Uncreate", "Write", "Unwrite", "DrawBorderThenFill", "ShowIncreasingSubsets",
	"ShowSubmobjectsOneByOne", "AddTextLetterByLetter", "AddTextWordByWord",
	"FadeIn", "FadeOut", "FadeTransform", "FadeTransformPieces", "FadeToColor",
	"GrowFromCenter", "GrowFromPoint", "GrowFromEdge", "GrowArrow", "SpinInFromNothing",
	"ShrinkToCenter", "Transform", "ReplacementTransform", "TransformFromCopy",
	"TransformMatchingTex", "TransformMatchingShapes", "ClockwiseTransform",
	"CounterclockwiseTransform", "MoveToTarget", "ApplyMethod", "ApplyFunction",
	"ApplyPointwiseFunction", "ApplyMatrix", "ApplyComplexFunction", "Restore",
	"ScaleInPlace", "CyclicReplace", "Swap",
	"Rotate", "Rotating", "MoveAlongPath", "Homotopy",
	"Indicate", "Flash", "Circumscribe", "Wiggle", "FocusOn", "ShowPassingFlash",
	"ApplyWave", "Blink", "Broadcast",
	"Succession", "AnimationGroup", "LaggedStart", "LaggedStartMap", "Wait",
	"ChangeDecimalToValue", "ChangeSpeed", "UpdateFromFunc", "UpdateFromAlphaFunc",
	// exceptions a scene may raise
	"Exception", "ValueError",
)

// functions are lower-case callables available without qualification:
// the safe Python builtins and the library's helper functions and rate functions.
var functions = set(
	// builtins
	"range", "len", "list", "tuple", "dict", "set", "frozenset", "int", "float",
	"str", "bool", "complex", "abs", "min", "max", "sum", "round", "pow", "divmod",
	"enumerate", "zip", "map", "filter", "sorted", "reversed", "any", "all",
	"isinstance", "print", "super", "iter", "next", "slice", "format", "hasattr",
	// helpers
	"always_redraw", "always", "f_always", "interpolate", "inverse_interpolate",
	"interpolate_color", "color_gradient", "average_color", "invert_color",
	"random_color", "random_bright_color", "rgb_to_color", "color_to_rgb", "hex_to_rgb",
	"rotate_vector", "angle_of_vector", "angle_between_vectors", "normalize",
	"get_norm", "midpoint", "line_intersection", "choose", "sigmoid", "clip",
	"rotation_matrix", "z_to_vector", "cross", "np_to_tex", "index_labels",
	// rate functions
	"linear", "smooth", "smoothstep", "smootherstep", "rush_into", "rush_from",
	"slow_into", "double_smooth", "there_and_back", "there_and_back_with_pause",
	"running_start", "not_quite_there", "wiggle", "lingering", "exponential_decay",
	"ease_in_sine", "ease_out_sine", "ease_in_out_sine", "ease_in_quad", "ease_out_quad",
	"ease_in_out_quad", "ease_in_cubic", "ease_out_cubic", "ease_in_out_cubic",
	"ease_in_expo", "ease_out_expo", "ease_in_out_expo", "ease_in_back", "ease_out_back",
	"ease_in_out_back", "ease_in_bounce", "ease_out_bounce", "ease_in_out_bounce",
	"ease_in_elastic", "ease_out_elastic", "ease_in_out_elastic",
)

// sceneMethods are the Scene methods generated code may call on self.
var sceneMethods = set(
	"play", "wait", "wait_until", "add", "remove", "clear", "bring_to_front",
	"bring_to_back", "add_foreground_mobject", "add_foreground_mobjects",
	"remove_foreground_mobject", "remove_foreground_mobjects", "next_section",
	"add_updater", "remove_updater", "add_fixed_in_frame_mobjects",
	"add_fixed_orientation_mobjects", "remove_fixed_in_frame_mobjects",
	"set_camera_orientation", "move_camera", "begin_ambient_camera_rotation",
	"stop_ambient_camera_rotation", "begin_3dillusion_camera_rotation",
	"stop_3dillusion_camera_rotation", "get_moving_mobjects", "get_top_level_mobjects",
	"activate_zooming",
)

// importable modules. The library itself is always allowed.
var allowedModules = set("manim", "math", "numpy", "random", "typing", "__future__")

// deniedNames may not appear anywhere in the source, as bare identifiers or
// after a dot.
var deniedNames = set(
	"open", "exec", "eval", "compile", "__import__", "globals", "locals", "vars",
	"getattr", "setattr", "delattr", "input", "breakpoint", "help", "exit", "quit",
	"memoryview", "os", "sys", "subprocess", "socket", "shutil", "requests", "urllib",
	"http", "pathlib", "importlib", "ctypes", "pickle", "marshal", "builtins",
	"tempfile", "glob", "signal", "threading", "multiprocessing", "asyncio",
	"config", "tempconfig",
)

// deniedAttributes may not appear anywhere, including after a dot; they are
// the usual escapes from a restricted namespace.
var deniedAttributes = set(
	"__builtins__", "__import__", "__subclasses__", "__globals__", "__code__",
	"__class__", "__bases__", "__base__", "__mro__", "__dict__", "__getattribute__",
	"__loader__", "__spec__", "__reduce__", "__reduce_ex__", "func_globals",
	"f_globals", "gi_frame", "cr_frame", "tb_frame",
)

// allowedDunders are the only double-underscore attributes that may follow a
// dot. Everything else of that shape reaches interpreter internals, e.g.
// print.__self__ is the builtins module.
var allowedDunders = set("__init__", "__name__")

// deniedMembers may not follow a dot on any receiver. They are the file and
// foreign-code entry points of the allowed modules and of numpy arrays, which
// stay reachable through chains and locals like arr.tofile or
// np.ctypeslib.load_library.
var deniedMembers = set(
	"ctypeslib", "lib", "distutils", "f2py", "tofile", "dump", "dumps",
	"load", "loads", "loadtxt", "genfromtxt", "fromfile", "fromregex", "memmap",
	"DataSource", "get_type_hints", "ForwardRef",
)

// library namespaces callable through a dotted name without an import.
var allowedNamespaces = set("rate_functions")

// deniedModuleCalls are file and process side effects reachable through an
// otherwise allowed module.
var deniedModuleCalls = map[string]map[string]bool{
	"numpy": set("save", "savez", "savez_compressed", "savetxt", "load", "loadtxt",
		"genfromtxt", "fromfile", "memmap", "fromregex", "DataSource"),
	"manim": set("config", "tempconfig", "ImageMobject", "SVGMobject", "Code"),
}

func isDunder(name string) bool {
	return len(name) > 4 && strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__")
}

// deniedMember reports attribute names that may not follow a dot.
func deniedMember(name string) bool {
	if deniedNames[name] || deniedAttributes[name] || deniedMembers[name] {
		return true
	}
	if isDunder(name) {
		return !allowedDunders[name]
	}
	// ndarray.dump, np.save and friends; save_state is a pure mobject method
	return strings.HasPrefix(name, "save") && name != "save_state"
}

// AllowList is the approved primitive vocabulary, sorted, for prompts.
type AllowList struct {
	Constructors []string
	Functions    []string
	SceneMethods []string
	SceneBases   []string
}

func (v *Validator) AllowList() AllowList {
	return AllowList{
		Constructors: sortedKeys(v.constructors),
		Functions:    sortedKeys(v.functions),
		SceneMethods: sortedKeys(sceneMethods),
		SceneBases:   sortedKeys(sceneBases),
	}
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
