package bytecode

type platformClass struct {
	super string
	iface bool
}

// platformClasses covers the core library types that most often meet at
// control flow merge points, mostly exception types reaching shared
// handlers.
var platformClasses = map[string]platformClass{
	"java/lang/Throwable":                         {super: ObjectClass},
	"java/lang/Exception":                         {super: "java/lang/Throwable"},
	"java/lang/Error":                             {super: "java/lang/Throwable"},
	"java/lang/RuntimeException":                  {super: "java/lang/Exception"},
	"java/lang/IllegalArgumentException":          {super: "java/lang/RuntimeException"},
	"java/lang/IllegalStateException":             {super: "java/lang/RuntimeException"},
	"java/lang/NullPointerException":              {super: "java/lang/RuntimeException"},
	"java/lang/ArithmeticException":               {super: "java/lang/RuntimeException"},
	"java/lang/ClassCastException":                {super: "java/lang/RuntimeException"},
	"java/lang/IndexOutOfBoundsException":         {super: "java/lang/RuntimeException"},
	"java/lang/ArrayIndexOutOfBoundsException":    {super: "java/lang/IndexOutOfBoundsException"},
	"java/lang/StringIndexOutOfBoundsException":   {super: "java/lang/IndexOutOfBoundsException"},
	"java/lang/UnsupportedOperationException":     {super: "java/lang/RuntimeException"},
	"java/lang/NumberFormatException":             {super: "java/lang/IllegalArgumentException"},
	"java/lang/SecurityException":                 {super: "java/lang/RuntimeException"},
	"java/lang/ReflectiveOperationException":      {super: "java/lang/Exception"},
	"java/lang/ClassNotFoundException":            {super: "java/lang/ReflectiveOperationException"},
	"java/lang/NoSuchMethodException":             {super: "java/lang/ReflectiveOperationException"},
	"java/lang/NoSuchFieldException":              {super: "java/lang/ReflectiveOperationException"},
	"java/lang/IllegalAccessException":            {super: "java/lang/ReflectiveOperationException"},
	"java/lang/InstantiationException":            {super: "java/lang/ReflectiveOperationException"},
	"java/lang/reflect/InvocationTargetException": {super: "java/lang/ReflectiveOperationException"},
	"java/lang/InterruptedException":              {super: "java/lang/Exception"},
	"java/lang/CloneNotSupportedException":        {super: "java/lang/Exception"},
	"java/io/IOException":                         {super: "java/lang/Exception"},
	"java/io/FileNotFoundException":               {super: "java/io/IOException"},
	"java/io/UncheckedIOException":                {super: "java/lang/RuntimeException"},
	"java/lang/LinkageError":                      {super: "java/lang/Error"},
	"java/lang/NoClassDefFoundError":              {super: "java/lang/LinkageError"},
	"java/lang/AssertionError":                    {super: "java/lang/Error"},
	"java/lang/VirtualMachineError":               {super: "java/lang/Error"},
	"java/lang/OutOfMemoryError":                  {super: "java/lang/VirtualMachineError"},
	"java/lang/StackOverflowError":                {super: "java/lang/VirtualMachineError"},
	"java/lang/Number":                            {super: ObjectClass},
	"java/lang/Integer":                           {super: "java/lang/Number"},
	"java/lang/Long":                              {super: "java/lang/Number"},
	"java/lang/Float":                             {super: "java/lang/Number"},
	"java/lang/Double":                            {super: "java/lang/Number"},
	"java/lang/Short":                             {super: "java/lang/Number"},
	"java/lang/Byte":                              {super: "java/lang/Number"},
	"java/lang/Boolean":                           {super: ObjectClass},
	"java/lang/Character":                         {super: ObjectClass},
	"java/lang/String":                            {super: ObjectClass},
	"java/lang/Class":                             {super: ObjectClass},
	"java/lang/AbstractStringBuilder":             {super: ObjectClass},
	"java/lang/StringBuilder":                     {super: "java/lang/AbstractStringBuilder"},
	"java/lang/StringBuffer":                      {super: "java/lang/AbstractStringBuilder"},
	"java/util/AbstractCollection":                {super: ObjectClass},
	"java/util/AbstractList":                      {super: "java/util/AbstractCollection"},
	"java/util/AbstractSequentialList":            {super: "java/util/AbstractList"},
	"java/util/ArrayList":                         {super: "java/util/AbstractList"},
	"java/util/LinkedList":                        {super: "java/util/AbstractSequentialList"},
	"java/util/AbstractSet":                       {super: "java/util/AbstractCollection"},
	"java/util/HashSet":                           {super: "java/util/AbstractSet"},
	"java/util/LinkedHashSet":                     {super: "java/util/HashSet"},
	"java/util/TreeSet":                           {super: "java/util/AbstractSet"},
	"java/util/AbstractMap":                       {super: ObjectClass},
	"java/util/HashMap":                           {super: "java/util/AbstractMap"},
	"java/util/LinkedHashMap":                     {super: "java/util/HashMap"},
	"java/util/TreeMap":                           {super: "java/util/AbstractMap"},
	"java/lang/Runnable":                          {super: ObjectClass, iface: true},
	"java/lang/Comparable":                        {super: ObjectClass, iface: true},
	"java/lang/CharSequence":                      {super: ObjectClass, iface: true},
	"java/lang/Iterable":                          {super: ObjectClass, iface: true},
	"java/util/Collection":                        {super: ObjectClass, iface: true},
	"java/util/List":                              {super: ObjectClass, iface: true},
	"java/util/Set":                               {super: ObjectClass, iface: true},
	"java/util/Map":                               {super: ObjectClass, iface: true},
	"java/io/Serializable":                        {super: ObjectClass, iface: true},
}
