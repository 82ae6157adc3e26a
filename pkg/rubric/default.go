package rubric

// DefaultCategories returns the built-in capability categories.
func DefaultCategories() []Category {
	return []Category{
		{
			Name:   "foundation",
			Weight: 1,
			Patterns: []string{
				`initial commit`, `setup`, `scaffold`, `boilerplate`,
				`package\.json`, `tsconfig`, `eslint`, `prettier`,
				`basic.*structure`, `foundation`, `directory structure`,
			},
		},
		{
			Name:   "elements",
			Weight: 2,
			Patterns: []string{
				`persona`, `skill`, `template`, `memory`, `element type`,
				`element.*system`, `crud`, `create.*element`, `edit.*element`,
				`delete.*element`, `list.*element`, `get.*element`,
				`element.*manager`, `element.*handler`, `element.*storage`,
				`element.*validator`, `element.*loader`,
			},
		},
		{
			Name:   "agents",
			Weight: 3,
			Patterns: []string{
				`agent`, `execute`, `execution`, `autonomy`, `autonomous`,
				`agentic`, `goal`, `objective`, `step`, `execution.*state`,
				`execution.*lifecycle`, `complete.*execution`, `continue.*execution`,
				`update.*execution`, `agent.*loop`, `budget`,
			},
		},
		{
			Name:   "self_modify",
			Weight: 5,
			Patterns: []string{
				`self.?modif`, `self.?improv`, `self.?evolv`, `self.?updat`,
				`dynamic.*creat`, `runtime.*creat`, `programmatic.*creat`,
				`auto.?generat`, `element.*creat.*element`, `meta.?element`,
				`create.*from.*template`, `derive`, `compose`,
				`addentry`, `add.*entry`, `append.*memory`,
				`evolv`, `adapt`, `learn`,
			},
		},
		{
			Name:   "meta",
			Weight: 5,
			Patterns: []string{
				`introspect`, `relationship`, `find.*similar`, `search.*by.*verb`,
				`relationship.*stats`, `element.*relationship`, `dependency`,
				`self.?aware`, `meta.?cogni`, `reflect`, `reason.*about`,
				`ensemble`, `compose`, `orchestrat`,
				`active.*element`, `render`, `context.*build`,
			},
		},
		{
			Name:   "ecosystem",
			Weight: 3,
			Patterns: []string{
				`collection`, `portfolio`, `install`, `import`,
				`marketplace`, `catalog`, `browse`, `search.*collection`,
				`submit`, `publish`, `share`, `github.*auth`,
				`sync.*portfolio`, `portfolio.*element`,
			},
		},
		{
			Name:   "safety",
			Weight: 2,
			Patterns: []string{
				`safety`, `trust`, `operator`, `security`, `permission`,
				`validation`, `sanitiz`, `escape`, `guard`, `tier`,
				`safety.*tier`, `operator.*safety`, `secure`,
			},
		},
		{
			Name:   "integration",
			Weight: 2,
			Patterns: []string{
				`ide`, `studio`, `electron`, `bridge`,
				`api.*endpoint`, `rest.*api`, `websocket`, `stream`,
				`external`, `connect`, `oauth`, `zulip`,
				`ci.?cd`, `deploy`, `docker`,
			},
		},
		{
			Name:   "aql",
			Weight: 4,
			Patterns: []string{
				`aql`, `query.*language`, `query.*element`, `search.*element`,
				`filter`, `narrow`, `resolver`, `disambigu`,
				`mcp.*tool`, `tool.*registr`, `tool.*handler`,
				`crude`, `operation.*dispatch`,
			},
		},
	}
}

// DefaultHighLevel returns the categories that indicate advanced capability.
func DefaultHighLevel() []string {
	return []string{"agents", "self_modify", "meta", "aql"}
}

// Default returns the built-in rubric.
func Default() *Rubric {
	return MustNew(DefaultCategories(), DefaultHighLevel(), false)
}
