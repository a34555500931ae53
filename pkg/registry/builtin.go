package registry

import "github.com/vjranagit/perfmon/pkg/types"

// Built-in template names
const (
	TemplateInterval          = "Interval"
	TemplateJVM               = "JVM"
	TemplateGarbageCollection = "GarbageCollection"
	TemplateMemoryPool        = "MemoryPool"
	TemplateThreadPool        = "ThreadPool"
)

// Columns shared by every built-in template
const (
	ColumnSystemID  = "SystemID"
	ColumnStartTime = "StartTime"
	ColumnEndTime   = "EndTime"
	ColumnCategory  = "CategoryName"
	ColumnInstance  = "InstanceName"
)

var (
	allSimple = []types.Method{types.MethodSum, types.MethodMin, types.MethodMax, types.MethodAverage}
	gauge     = []types.Method{types.MethodMin, types.MethodMax, types.MethodAverage}
)

func field(name, column string, integral bool, def types.Method, allowed []types.Method) FieldSpec {
	return FieldSpec{
		Name:     name,
		Column:   column,
		Integral: integral,
		Allowed:  allowed,
		Default:  def,
	}
}

func rateField(name, column, counter string) FieldSpec {
	return FieldSpec{
		Name:    name,
		Column:  column,
		Allowed: gauge,
		Default: types.MethodNatural,
		Natural: &NaturalSpec{
			Kind:          NaturalRate,
			StartColumn:   ColumnStartTime,
			EndColumn:     ColumnEndTime,
			CounterColumn: counter,
		},
	}
}

// Builtin returns the templates every registry starts with
func Builtin() []Template {
	return []Template{
		interval(),
		jvm(),
		garbageCollection(),
		memoryPool(),
		threadPool(),
	}
}

func interval() Template {
	return Template{
		Name:              TemplateInterval,
		TimestampColumn:   ColumnEndTime,
		SystemColumn:      ColumnSystemID,
		SubCategoryColumn: ColumnCategory,
		Fields: []FieldSpec{
			field("maxActiveThreads", "MaxActiveThreads", true, types.MethodMax, allSimple),
			field("maxDuration", "MaxDuration", true, types.MethodMax, gauge),
			field("minDuration", "MinDuration", true, types.MethodMin, gauge),
			field("medianDuration", "MedianDuration", false, types.MethodAverage, gauge),
			field("totalHits", "TotalHits", true, types.MethodSum, allSimple),
			field("totalCompletions", "TotalCompletions", true, types.MethodSum, allSimple),
			field("sqlMaxDuration", "SQLMaxDuration", true, types.MethodMax, gauge),
			rateField("throughputPerMinute", "NormalizedThroughputPerMinute", "TotalCompletions"),
			{
				Name:    "averageDuration",
				Column:  "AverageDuration",
				Allowed: gauge,
				Default: types.MethodNatural,
				Natural: &NaturalSpec{
					Kind:              NaturalAverage,
					NumeratorColumn:   "DurationSum",
					DenominatorColumn: "TotalCompletions",
				},
			},
			{
				Name:    "sqlAverageDuration",
				Column:  "SQLAverageDuration",
				Allowed: gauge,
				Default: types.MethodNatural,
				Natural: &NaturalSpec{
					Kind:              NaturalAverage,
					NumeratorColumn:   "SQLDurationSum",
					DenominatorColumn: "TotalCompletions",
				},
			},
			{
				Name:    "standardDeviation",
				Column:  "StandardDeviation",
				Allowed: gauge,
				Default: types.MethodNatural,
				Natural: &NaturalSpec{
					Kind:               NaturalStdDev,
					NumeratorColumn:    "DurationSum",
					SumOfSquaresColumn: "DurationSumOfSquares",
					DenominatorColumn:  "TotalCompletions",
				},
			},
		},
	}
}

func jvm() Template {
	return Template{
		Name:            TemplateJVM,
		TimestampColumn: ColumnEndTime,
		SystemColumn:    ColumnSystemID,
		Fields: []FieldSpec{
			field("heapMemUsed", "HeapMemUsed", true, types.MethodAverage, gauge),
			field("heapMemCommitted", "HeapMemCommitted", true, types.MethodAverage, gauge),
			field("heapMemMax", "HeapMemMax", true, types.MethodMax, gauge),
			field("nonHeapMemUsed", "NonHeapMemUsed", true, types.MethodAverage, gauge),
			field("systemCpuLoad", "SystemCpuLoad", false, types.MethodAverage, gauge),
			field("processCpuLoad", "ProcessCpuLoad", false, types.MethodAverage, gauge),
			field("currentThreadCount", "CurrentThreadCount", true, types.MethodAverage, gauge),
			field("daemonThreadCount", "DaemonThreadCount", true, types.MethodAverage, gauge),
			field("classesLoaded", "CurrentClassLoadCount", true, types.MethodMax, gauge),
			{
				Name:     "compilationMillis",
				Column:   "CompilationMillis",
				Integral: true,
				Allowed:  allSimple,
				Default:  types.MethodSum,
				Natural: &NaturalSpec{
					Kind:          NaturalRate,
					StartColumn:   ColumnStartTime,
					EndColumn:     ColumnEndTime,
					CounterColumn: "CompilationMillis",
				},
			},
		},
	}
}

func garbageCollection() Template {
	return Template{
		Name:              TemplateGarbageCollection,
		TimestampColumn:   ColumnEndTime,
		SystemColumn:      ColumnSystemID,
		SubCategoryColumn: ColumnInstance,
		Fields: []FieldSpec{
			field("numCollections", "NumCollections", true, types.MethodSum, allSimple),
			field("collectionMillis", "CollectionMillis", true, types.MethodSum, allSimple),
			rateField("collectionsPerMinute", "CollectionsPerMinute", "NumCollections"),
			rateField("collectionMillisPerMinute", "CollectionMillisPerMinute", "CollectionMillis"),
		},
	}
}

func memoryPool() Template {
	return Template{
		Name:              TemplateMemoryPool,
		TimestampColumn:   ColumnEndTime,
		SystemColumn:      ColumnSystemID,
		SubCategoryColumn: ColumnInstance,
		Fields: []FieldSpec{
			field("initial", "InitialMB", false, types.MethodAverage, gauge),
			field("used", "UsedMB", false, types.MethodAverage, gauge),
			field("committed", "CommittedMB", false, types.MethodAverage, gauge),
			field("max", "MaxMB", false, types.MethodMax, gauge),
		},
	}
}

func threadPool() Template {
	return Template{
		Name:              TemplateThreadPool,
		TimestampColumn:   ColumnEndTime,
		SystemColumn:      ColumnSystemID,
		SubCategoryColumn: ColumnInstance,
		Fields: []FieldSpec{
			field("currentThreadsBusy", "CurrentThreadsBusy", true, types.MethodAverage, gauge),
			field("currentThreadCount", "CurrentThreadCount", true, types.MethodAverage, gauge),
			field("maxThreads", "MaxThreads", true, types.MethodMax, gauge),
		},
	}
}
