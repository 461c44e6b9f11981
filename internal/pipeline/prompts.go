package pipeline

const systemPrompt = `You are an expert in mathematical optimization modeling.
You translate natural-language problem statements into mixed-integer
programming models solved with gurobipy. Answer with exactly the JSON or
code requested, nothing else.`

const paramsPromptTemplate = `Problem description:
%s
%s
List every data parameter the problem defines. Respond with a JSON object
mapping each parameter symbol to {"shape": [dims...], "definition": "..."}.
Use [] as the shape for scalars. Use valid Python identifiers as symbols.`

const objectivePromptTemplate = `Problem description:
%s

Parameters:
%s
%s
State the optimization objective of this problem. Respond with JSON:
{"description": "<one sentence>", "sense": "minimize" or "maximize"}.`

const constraintsPromptTemplate = `Problem description:
%s

Parameters:
%s
%s
List every constraint of this problem as one clear sentence each, in the
order they should be modeled. Respond with a JSON array of strings. Do
not include the objective or variable domains implied by variable types.`

const constraintFormulationPromptTemplate = `Problem description:
%s

Parameters:
%s

Constraints to formulate:
%s
%s
Formulate each constraint in LaTeX, introducing decision variables as
needed. A constraint may only use variables it introduces or variables an
earlier constraint introduced. Respond with JSON:
{
  "constraints": [{"formulation": "<latex>"}, ...],
  "variables": {"<symbol>": {"shape": [dims...], "type": "continuous"|"integer"|"binary", "definition": "..."}}
}
The constraints array must keep the given order and length.`

const objectiveFormulationPromptTemplate = `Problem description:
%s

Parameters:
%s

Variables:
%s

Objective (%s): %s
%s
Formulate the objective in LaTeX using only the parameters and variables
above. Respond with JSON: {"formulation": "<latex>"}.`

const codegenPromptTemplate = `Problem description:
%s

Parameters (bound from data.json, one Python symbol each):
%s

Variables (already declared as gurobipy model variables):
%s

Constraint formulations:
%s

Objective (%s): %s

Write gurobipy code for each constraint and for the objective. Each
constraint fragment adds its constraints to the existing "model" object
(model.addConstr / model.addConstrs). The objective fragment calls
model.setObjective with GRB.MINIMIZE or GRB.MAXIMIZE. Use only the
parameter and variable symbols listed above plus quicksum. Do not create
the model, load data, declare variables, or call optimize. Respond with
JSON: {"constraint_codes": ["<python>", ...], "objective_code": "<python>"}.
The constraint_codes array must keep the given order and length.`

const fragmentRepairPromptTemplate = `The following gurobipy fragment you
produced is invalid:
%s

Problem: %s

Return only the corrected Python fragment.`

const debugPromptTemplate = `This gurobipy program failed. Fix the model
fragments.

Problem description:
%s

Parameters:
%s

Variables:
%s

Current constraint code fragments:
%s

Current objective code fragment:
%s

Failure (%s):
%s

Respond with JSON: {"constraint_codes": ["<python>", ...], "objective_code": "<python>"}.
Keep the constraint order and length; repeat a fragment unchanged if it
needs no fix. Use only the declared parameter and variable symbols.`

const labelsHintTemplate = `
Ground-truth hints for benchmarking:
%s`
